package config

import "sync"

// ConfigCallback fans a loaded configuration out to the packages that were
// initialised before the config file was read (the logger, mostly).
type ConfigCallback[T any] struct {
	mu        sync.Mutex
	callbacks []func(T)
}

func (cc *ConfigCallback[T]) AddCallback(callback func(T)) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.callbacks = append(cc.callbacks, callback)
}

func (cc *ConfigCallback[T]) Call(config T) {
	cc.mu.Lock()
	callbacks := make([]func(T), len(cc.callbacks))
	copy(callbacks, cc.callbacks)
	cc.mu.Unlock()

	for _, callback := range callbacks {
		callback(config)
	}
}
