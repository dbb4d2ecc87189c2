package httpapi

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/weather-ingest/internal/weather"
)

const (
	ServiceName = "weather-ingest"

	defaultLatitude  = -23.55
	defaultLongitude = -46.63
	defaultPastHours = 6
)

// NewApp builds the Fiber app with the centralized error handler, goccy JSON
// and the global middleware.
func NewApp(readTimeout, writeTimeout time.Duration) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               ServiceName,
		DisableStartupMessage: true,
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          ErrorHandler,
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": ServiceName,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return app
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
// Domain errors are mapped to HTTP statuses here.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, weather.ErrInvalidArgument):
		return fiber.StatusBadRequest
	case errors.Is(err, weather.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, weather.ErrProvider),
		errors.Is(err, weather.ErrMalformedPayload),
		errors.Is(err, weather.ErrTimestampParse):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/collect", func(c *fiber.Ctx) error {
		lat, lon, err := parseCoords(c)
		if err != nil {
			return err
		}
		pastHours, err := intQuery(c, "past_hours", defaultPastHours)
		if err != nil {
			return err
		}

		res, err := service.Collect(c.UserContext(), weather.CollectRequest{
			Latitude:  lat,
			Longitude: lon,
			PastHours: pastHours,
		})
		if err != nil {
			return err
		}
		return c.JSON(res)
	})

	v1.Post("/backfill", func(c *fiber.Ctx) error {
		lat, lon, err := parseCoords(c)
		if err != nil {
			return err
		}
		days, err := intQuery(c, "days", weather.DefaultBackfillDays)
		if err != nil {
			return err
		}
		if days < 1 {
			return fmt.Errorf("%w: days must be between 1 and 180", weather.ErrInvalidArgument)
		}

		res, err := service.Backfill(c.UserContext(), weather.BackfillRequest{
			Latitude:  lat,
			Longitude: lon,
			Days:      days,
			StartDate: c.Query("start_date"),
			EndDate:   c.Query("end_date"),
		})
		if err != nil {
			return err
		}
		return c.JSON(res)
	})

	v1.Get("/series", func(c *fiber.Ctx) error {
		lat, lon, err := parseCoords(c)
		if err != nil {
			return err
		}

		var asOf time.Time
		if raw := c.Query("as_of"); raw != "" {
			if asOf, err = parseTime(raw); err != nil {
				return fmt.Errorf("%w: as_of: %v", weather.ErrInvalidArgument, err)
			}
		}

		series, err := service.Series(c.UserContext(), weather.SeriesRequest{
			Latitude:  lat,
			Longitude: lon,
			Timezone:  c.Query("timezone"),
			AsOf:      asOf,
		})
		if err != nil {
			return err
		}
		return c.JSON(series)
	})

	v1.Get("/observations/last", func(c *fiber.Ctx) error {
		lat, lon, err := parseCoords(c)
		if err != nil {
			return err
		}

		last, err := service.LastObservation(c.UserContext(), lat, lon)
		if err != nil {
			return err
		}
		return c.JSON(last)
	})

	v1.Delete("/observations", func(c *fiber.Ctx) error {
		var loc *weather.Location
		if !c.QueryBool("all") {
			if c.Query("latitude") == "" || c.Query("longitude") == "" {
				return fiber.NewError(fiber.StatusBadRequest, "latitude and longitude are required unless all=true")
			}
			lat, lon, err := parseCoords(c)
			if err != nil {
				return err
			}
			l := weather.NewLocation(lat, lon)
			loc = &l
		}

		n, err := service.Purge(c.UserContext(), loc)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"deleted_rows": n})
	})
}

// parseCoords reads latitude/longitude, defaulting to São Paulo.
func parseCoords(c *fiber.Ctx) (float64, float64, error) {
	lat, err := floatQuery(c, "latitude", defaultLatitude)
	if err != nil {
		return 0, 0, err
	}
	lon, err := floatQuery(c, "longitude", defaultLongitude)
	if err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

func floatQuery(c *fiber.Ctx, name string, def float64) (float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", weather.ErrInvalidArgument, name)
	}
	return v, nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}

func intQuery(c *fiber.Ctx, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", weather.ErrInvalidArgument, name)
	}
	return v, nil
}
