// Package api provides the REST and WebSocket surface of the scanner.
package api

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/securescan/securescan/db"
	"github.com/securescan/securescan/lib"
	"github.com/securescan/securescan/pkg/scan"
)

// CreateScanInput represents the input for creating a new scan
type CreateScanInput struct {
	URL string `json:"url" validate:"required,max=2048"`
}

var validate = validator.New()

// urlPattern is the permissive target pattern accepted at intake. It admits
// some non-URLs; scope decisions are always made from the parsed URL, never
// from this regex.
var urlPattern = regexp.MustCompile(`^(https?://)?([\da-z.-]+)\.([a-z.]{2,6})([/\w .-]*)*/?$`)

// CreateScan validates the target, persists a pending scan record and kicks
// the scan off in the background.
func CreateScan(c *fiber.Ctx) error {
	input := new(CreateScanInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(NewErrorResponse("Invalid request body"))
	}
	if err := validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(NewErrorResponse("Invalid input", err.Error()))
	}
	if !urlPattern.MatchString(input.URL) {
		return c.Status(fiber.StatusBadRequest).JSON(NewErrorResponse("Invalid URL", "The provided URL does not look like a scannable target"))
	}

	target := lib.EnsureScheme(input.URL)
	record, err := db.Connection().CreateScan(uuid.New().String(), target)
	if err != nil {
		log.Error().Err(err).Str("url", target).Msg("Could not create scan record")
		return c.Status(fiber.StatusInternalServerError).JSON(NewErrorResponse("Could not create scan"))
	}

	engine := c.Locals("engine").(*scan.Engine)
	engine.StartBackground(record)
	log.Info().Str("scan", record.ID).Str("url", target).Msg("Scan created")
	return c.Status(fiber.StatusCreated).JSON(record)
}

// FindScans returns scans with optional pagination.
func FindScans(c *fiber.Ctx) error {
	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(NewErrorResponse("Invalid page parameter"))
	}
	pageSize, err := strconv.Atoi(c.Query("page_size", "50"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(NewErrorResponse("Invalid page size parameter"))
	}

	scans, count, err := db.Connection().ListScans(page, pageSize)
	if err != nil {
		log.Error().Err(err).Msg("Could not list scans")
		return c.Status(fiber.StatusInternalServerError).JSON(NewErrorResponse("Could not list scans"))
	}
	return c.JSON(ScanListResponse{Scans: scans, Count: count})
}

// GetScanDetail returns one scan record by id.
func GetScanDetail(c *fiber.Ctx) error {
	record, err := db.Connection().GetScan(c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(NewErrorResponse("Scan not found"))
		}
		log.Error().Err(err).Str("scan", c.Params("id")).Msg("Could not fetch scan")
		return c.Status(fiber.StatusInternalServerError).JSON(NewErrorResponse("Could not fetch scan"))
	}
	return c.JSON(record)
}

var exportExtensions = map[string]string{
	"json":  "json",
	"pdf":   "pdf",
	"excel": "xlsx",
}

// ExportScan returns the scan payload for download. Rendering to PDF or a
// spreadsheet happens downstream; every format carries the same record.
func ExportScan(c *fiber.Ctx) error {
	format := c.Query("format", "json")
	extension, ok := exportExtensions[format]
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(NewErrorResponse("Invalid format", "Supported formats: json, pdf, excel"))
	}

	record, err := db.Connection().GetScan(c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(NewErrorResponse("Scan not found"))
		}
		log.Error().Err(err).Str("scan", c.Params("id")).Msg("Could not fetch scan for export")
		return c.Status(fiber.StatusInternalServerError).JSON(NewErrorResponse("Could not fetch scan"))
	}

	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="scan-%s.%s"`, record.ID, extension))
	return c.JSON(fiber.Map{
		"format": format,
		"scan":   record,
	})
}
