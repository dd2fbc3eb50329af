//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"Wayfarer/internal/biz"
	"Wayfarer/internal/conf"
	"Wayfarer/internal/data"
	"Wayfarer/internal/server"
	"Wayfarer/internal/service"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Resilience, *conf.Fetch, *conf.FlightSearch, *conf.Irrops, *conf.Cron, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newSnapshotCron,
		newApp,
	))
}
