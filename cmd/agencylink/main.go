package main

// @title           AgencyLink API
// @version         1.0
// @description     Installs a marketplace app on agencies and sub-accounts, stores their tokens and keeps them fresh.

// @contact.name   AgencyLink maintainers
// @contact.url    https://github.com/custodia-labs/agencylink/issues

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Admin JWT. Format: "Bearer {token}"

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/custodia-labs/agencylink/docs"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
