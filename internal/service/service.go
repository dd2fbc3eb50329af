// Package service implements the HTTP API handlers.
// Handlers decode requests, call the biz layer and map its errors onto
// Kratos API errors.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewIrropsService, NewResilienceService)
