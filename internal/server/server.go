package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/this-is-us/civicd/config"
	"github.com/this-is-us/civicd/internal/worker"
)

// Run wires the pipeline and serves the internal ops API. It blocks until
// the listener fails.
func Run(ctx context.Context, cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	deps, err := BuildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	h := &OpsHandler{
		Store:    deps.Store,
		Caps:     deps.Caps,
		Pipeline: deps.Pipeline,
		Scanner:  deps.Scanner,
		Ladder:   deps.Ladder,
	}
	if deps.Tagger != nil {
		h.Tagger = deps.Tagger
	}
	h.Register(e.Group("/internal"))

	if cfg.Scan.Schedule != "" {
		scanLogger := log.New(log.Writer(), "[SCAN] ", log.LstdFlags)
		runner, err := worker.NewRunner(scanLogger, deps.Scanner, cfg.Scan.Schedule, worker.ScanOptions{})
		if err != nil {
			return err
		}
		go func() {
			if err := runner.Start(ctx); err != nil {
				scanLogger.Printf("scan runner stopped: %v", err)
			}
		}()
	}

	if addr == "" {
		addr = cfg.Server.Address
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
