package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smartbch-indexer/config"
	"smartbch-indexer/indexer"
	"smartbch-indexer/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct {
	err error
}

func (p pinger) Ping(context.Context) error {
	return p.err
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, *queue.Job, time.Duration) error {
	return errors.New("redis down")
}

func newTestServer(t *testing.T, q queue.Enqueuer, p Pinger) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(config.ServerConfig{}, q, p).Router())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSubmitJobs(t *testing.T) {
	q := queue.NewLocalQueue(10 * time.Millisecond)
	srv := newTestServer(t, q, pinger{})

	tests := []struct {
		path string
		name string
		args string
	}{
		{"/addresses/0xAbC/crawl", indexer.JobCrawlAddress, `{"address":"0xAbC"}`},
		{"/blocks/42/parse?notify=true", indexer.JobParseBlock, `{"block_number":"42","notify":true}`},
		{"/blocks/nope/parse", indexer.JobParseBlock, `{"block_number":"nope","notify":false}`},
		{"/transactions/0x01/notify", indexer.JobNotifyTransaction, `{"txid":"0x01"}`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := post(t, srv.URL+tt.path)
			assert.Equal(t, http.StatusAccepted, resp.StatusCode)

			job, err := q.Dequeue(context.Background())
			require.NoError(t, err)
			require.NotNil(t, job)
			assert.Equal(t, tt.name, job.Name)
			assert.JSONEq(t, tt.args, string(job.Args))
		})
	}
}

func TestSubmitFailure(t *testing.T) {
	srv := newTestServer(t, failingQueue{}, pinger{})

	resp := post(t, srv.URL+"/blocks/1/parse")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, queue.NewLocalQueue(time.Millisecond), pinger{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Touch a queue metric so it shows up.
	require.NoError(t, queue.Submit(context.Background(), queue.NewLocalQueue(time.Millisecond), indexer.JobParseBlock, nil, 0))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "smartbch_indexer_jobs_enqueued_total"))

	unhealthy := newTestServer(t, nil, pinger{err: errors.New("db gone")})
	resp, err = http.Get(unhealthy.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/blocks/1/parse")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
