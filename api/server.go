package api

import (
	"fmt"
	"strings"

	"github.com/gofiber/contrib/fiberzerolog"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/securescan/securescan/db"
	"github.com/securescan/securescan/pkg/scan"
	"github.com/securescan/securescan/pkg/scan/progress"
)

// StartAPI initialises storage and the scan engine, then serves the REST
// and WebSocket API until the listener fails.
func StartAPI() {
	apiLogger := log.With().Str("type", "api").Logger()

	apiLogger.Info().Msg("Initializing...")
	bus := progress.NewBus()
	engine := scan.NewEngine(db.Connection(), bus)

	app := BuildApp(engine, bus, &apiLogger)

	listenAddress := fmt.Sprintf("%v:%v", viper.Get("api.listen.host"), viper.Get("api.listen.port"))
	apiLogger.Info().Str("address", listenAddress).Msg("Starting the API")
	if err := app.Listen(listenAddress); err != nil {
		apiLogger.Warn().Err(err).Msg("Error starting server")
	}
}

// BuildApp wires the fiber application: middleware, REST routes and the
// progress WebSocket. Split from StartAPI so tests can drive the app
// without a listener.
func BuildApp(engine *scan.Engine, bus *progress.Bus, apiLogger *zerolog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ServerHeader: "SecureScan",
		AppName:      "SecureScan API",
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(viper.GetStringSlice("api.cors.origins"), ","),
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders: "Content-Disposition",
	}))
	app.Use(fiberzerolog.New(fiberzerolog.Config{
		Logger: apiLogger,
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("API Running")
	})

	api := app.Group("/api")
	api.Use(func(c *fiber.Ctx) error {
		c.Locals("engine", engine)
		return c.Next()
	})
	api.Post("/scans", CreateScan)
	api.Get("/scans", FindScans)
	api.Get("/scans/:id", GetScanDetail)
	api.Get("/scans/:id/export", ExportScan)

	RegisterWebsockets(app, bus)
	return app
}
