package web

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/complianceflow/complianceflow/pkg/eventbus"
	"github.com/complianceflow/complianceflow/pkg/events"
	"github.com/complianceflow/complianceflow/pkg/persistence"
)

type APIHandlers struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventPublisher
	validator   *validator.Validate
}

func NewAPIHandlers(
	persistence persistence.Persistence,
	eventBus eventbus.EventPublisher,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		persistence: persistence,
		eventBus:    eventBus,
		validator:   validator,
	}
}

// SubmitManifest generates a fresh correlation id, publishes the
// initiating event and returns 202: the work has been promised, not done.
func (h *APIHandlers) SubmitManifest(c fiber.Ctx) error {
	var req SubmitManifestRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	manifestID := uuid.New().String()

	event := events.ManifestSubmitted{
		BaseEvent:       events.NewBaseEvent(events.ManifestSubmittedEvent, manifestID),
		ReferenceNumber: req.ReferenceNumber,
		HtsCodes:        req.HtsCodes,
	}

	err := h.eventBus.Publish(c.Context(), manifestID, event)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(SubmitManifestResponse{ManifestID: manifestID})
}

// GetManifest reads the saga store directly; the read may trail the
// engine by a moment, which is fine for a status poll.
func (h *APIHandlers) GetManifest(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := uuid.Parse(id); err != nil {
		return badRequest(c, "Manifest ID must be a UUID")
	}

	state, err := h.persistence.ManifestStates().GetByCorrelationID(c.Context(), id)
	if err != nil {
		if persistence.IsManifestNotFound(err) {
			return notFound(c, "Manifest not found")
		}

		return internalError(c, err)
	}

	return c.JSON(newManifestStatusResponse(state))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"status":  "unhealthy",
			"message": "saga store is unreachable",
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}
