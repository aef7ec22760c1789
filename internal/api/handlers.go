package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/pipecounter/internal/connectivity"
	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/inventory"
	"github.com/tphakala/pipecounter/internal/lifecycle"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/model"
	"github.com/tphakala/pipecounter/internal/notification"
	"github.com/tphakala/pipecounter/internal/orchestrator"
)

const defaultNotificationLimit = 50

// Records is the lifecycle surface exposed over HTTP.
// *lifecycle.Controller implements it.
type Records interface {
	List() []model.AnalysisRecord
	Get(id string) (model.AnalysisRecord, error)
	State(id string) (lifecycle.State, error)
	Capture(ctx context.Context, image []byte, loc *model.Location) (lifecycle.CaptureResult, error)
	StartManualEntry(image []byte, loc *model.Location) model.AnalysisRecord
	OpenCorrection(id string) (model.AnalysisRecord, error)
	CancelCorrection(id string)
	SaveCorrections(ctx context.Context, id string, detections []model.Detection) (model.AnalysisRecord, error)
	UpdateNotes(ctx context.Context, id, notes string) (model.AnalysisRecord, error)
	SubmitFeedback(ctx context.Context, id string) (string, error)
	SyncInventory(ctx context.Context, id string) (inventory.Entry, error)
	InventoryStatus(id string) inventory.Entry
	ClearHistory(ctx context.Context) error
}

// Syncer runs a queue drain on demand.
type Syncer interface {
	Run(ctx context.Context) (orchestrator.Result, error)
}

// QueueLister lists captures waiting for a sync.
type QueueLister interface {
	ListAll(ctx context.Context) ([]model.QueuedCapture, error)
}

// Connectivity exposes and accepts the online signal.
type Connectivity interface {
	Status() connectivity.Status
	Report(online bool) bool
}

// Notifications lists the notification feed.
type Notifications interface {
	List(limit int) []*notification.Notification
}

// Consent reads and writes the privacy consent flag.
type Consent interface {
	ConsentGranted(ctx context.Context) (bool, error)
	SetConsent(ctx context.Context, granted bool) error
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Records       Records
	Sync          Syncer
	Queue         QueueLister
	Connectivity  Connectivity
	Notifications Notifications
	Consent       Consent
}

// Controller holds the route handlers.
type Controller struct {
	deps Deps
	log  logger.Logger
}

// NewController returns a Controller over deps.
func NewController(deps Deps, log logger.Logger) *Controller {
	if log == nil {
		log = GetLogger()
	}
	return &Controller{deps: deps, log: log}
}

// RegisterRoutes mounts every route on g.
func (c *Controller) RegisterRoutes(g *echo.Group) {
	g.GET("/history", c.ListHistory)
	g.DELETE("/history", c.ClearHistory)
	g.GET("/history/:id", c.GetRecord)
	g.GET("/history/:id/state", c.GetState)
	g.POST("/history/:id/corrections/open", c.OpenCorrection)
	g.DELETE("/history/:id/corrections/open", c.CancelCorrection)
	g.PUT("/history/:id/corrections", c.SaveCorrections)
	g.PUT("/history/:id/notes", c.UpdateNotes)
	g.POST("/history/:id/feedback", c.SubmitFeedback)
	g.POST("/history/:id/inventory", c.SyncInventory)
	g.GET("/history/:id/inventory", c.InventoryStatus)

	g.POST("/captures", c.Capture)
	g.POST("/manual-entries", c.StartManualEntry)

	g.GET("/queue", c.ListQueue)
	g.POST("/sync", c.Sync)

	g.GET("/connectivity", c.GetConnectivity)
	g.POST("/connectivity", c.ReportConnectivity)

	g.GET("/notifications", c.ListNotifications)

	g.GET("/consent", c.GetConsent)
	g.POST("/consent", c.SetConsent)
}

// CaptureRequest carries a base64 encoded image.
type CaptureRequest struct {
	Image    []byte          `json:"image"`
	Location *model.Location `json:"location,omitempty"`
}

// CorrectionsRequest replaces the detections of a record.
type CorrectionsRequest struct {
	Detections []model.Detection `json:"detections"`
}

// NotesRequest replaces the notes of a record.
type NotesRequest struct {
	Notes string `json:"notes"`
}

// ConnectivityRequest reports a platform connectivity change.
type ConnectivityRequest struct {
	Online *bool `json:"online"`
}

// ConsentRequest records the privacy decision.
type ConsentRequest struct {
	Granted *bool `json:"granted"`
}

// MessageResponse is returned by actions without a resource.
type MessageResponse struct {
	Message string `json:"message"`
}

// QueueItem describes a waiting capture without its image bytes.
type QueueItem struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Location   *model.Location `json:"location,omitempty"`
	ImageBytes int             `json:"imageBytes"`
}

// ListHistory returns the history. Images are omitted unless ?images=true.
func (c *Controller) ListHistory(ctx echo.Context) error {
	records := c.deps.Records.List()
	if withImages, _ := strconv.ParseBool(ctx.QueryParam("images")); !withImages {
		for i := range records {
			records[i].Image = nil
		}
	}
	return ctx.JSON(http.StatusOK, records)
}

// GetRecord returns one record including its image.
func (c *Controller) GetRecord(ctx echo.Context) error {
	rec, err := c.deps.Records.Get(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Record not found.")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// GetState returns the derived lifecycle state.
func (c *Controller) GetState(ctx echo.Context) error {
	id := ctx.Param("id")
	state, err := c.deps.Records.State(id)
	if err != nil {
		return c.HandleError(ctx, err, "Record not found.")
	}
	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "state": state})
}

// ClearHistory empties history and the queue.
func (c *Controller) ClearHistory(ctx echo.Context) error {
	if err := c.deps.Records.ClearHistory(ctx.Request().Context()); err != nil {
		return c.HandleError(ctx, err, "History could not be cleared.")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: lifecycle.ClearedMessage})
}

// Capture analyzes or queues an image. It answers 201 with the analysis or
// 202 with the pending placeholder.
func (c *Controller) Capture(ctx echo.Context) error {
	var req CaptureRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, badRequest("Invalid capture payload."), "")
	}
	res, err := c.deps.Records.Capture(ctx.Request().Context(), req.Image, req.Location)
	if err != nil {
		return c.HandleError(ctx, err, "Capture failed.")
	}
	if res.Queued {
		return ctx.JSON(http.StatusAccepted, res)
	}
	return ctx.JSON(http.StatusCreated, res)
}

// StartManualEntry creates an unsaved manual record.
func (c *Controller) StartManualEntry(ctx echo.Context) error {
	var req CaptureRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, badRequest("Invalid manual entry payload."), "")
	}
	return ctx.JSON(http.StatusCreated, c.deps.Records.StartManualEntry(req.Image, req.Location))
}

// OpenCorrection enters editing mode.
func (c *Controller) OpenCorrection(ctx echo.Context) error {
	rec, err := c.deps.Records.OpenCorrection(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "This record cannot be edited right now.")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// CancelCorrection leaves editing mode without saving.
func (c *Controller) CancelCorrection(ctx echo.Context) error {
	c.deps.Records.CancelCorrection(ctx.Param("id"))
	return ctx.NoContent(http.StatusNoContent)
}

// SaveCorrections stores corrected detections and verifies the record.
func (c *Controller) SaveCorrections(ctx echo.Context) error {
	var req CorrectionsRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, badRequest("Invalid corrections payload."), "")
	}
	rec, err := c.deps.Records.SaveCorrections(ctx.Request().Context(), ctx.Param("id"), req.Detections)
	if err != nil {
		return c.HandleError(ctx, err, "Corrections could not be saved.")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// UpdateNotes replaces the notes.
func (c *Controller) UpdateNotes(ctx echo.Context) error {
	var req NotesRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, badRequest("Invalid notes payload."), "")
	}
	rec, err := c.deps.Records.UpdateNotes(ctx.Request().Context(), ctx.Param("id"), req.Notes)
	if err != nil {
		return c.HandleError(ctx, err, "Notes could not be saved.")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// SubmitFeedback sends verified corrections for training.
func (c *Controller) SubmitFeedback(ctx echo.Context) error {
	msg, err := c.deps.Records.SubmitFeedback(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Feedback could not be submitted.")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: msg})
}

// SyncInventory pushes verified counts to the inventory system.
func (c *Controller) SyncInventory(ctx echo.Context) error {
	entry, err := c.deps.Records.SyncInventory(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, inventory.UnavailableMessage)
	}
	return ctx.JSON(http.StatusOK, entry)
}

// InventoryStatus returns the inventory sync status.
func (c *Controller) InventoryStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.deps.Records.InventoryStatus(ctx.Param("id")))
}

// ListQueue lists captures still waiting for a sync.
func (c *Controller) ListQueue(ctx echo.Context) error {
	items, err := c.deps.Queue.ListAll(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "The queue could not be read.")
	}
	out := make([]QueueItem, len(items))
	for i := range items {
		out[i] = QueueItem{
			ID:         items[i].ID,
			Timestamp:  items[i].Timestamp,
			Location:   items[i].Location,
			ImageBytes: len(items[i].Image),
		}
	}
	return ctx.JSON(http.StatusOK, out)
}

// Sync drains the queue once and returns the pass summary.
func (c *Controller) Sync(ctx echo.Context) error {
	res, err := c.deps.Sync.Run(ctx.Request().Context())
	if errors.Is(err, orchestrator.ErrSyncInProgress) {
		return c.HandleError(ctx, err, "A sync is already running.")
	}
	if err != nil {
		return c.HandleError(ctx, err, "Sync failed.")
	}
	for i := range res.Records {
		res.Records[i].Image = nil
	}
	return ctx.JSON(http.StatusOK, res)
}

// GetConnectivity returns the current online state.
func (c *Controller) GetConnectivity(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.deps.Connectivity.Status())
}

// ReportConnectivity feeds a platform connectivity observation.
func (c *Controller) ReportConnectivity(ctx echo.Context) error {
	var req ConnectivityRequest
	if err := ctx.Bind(&req); err != nil || req.Online == nil {
		return c.HandleError(ctx, badRequest(`Body must be {"online": true|false}.`), "")
	}
	changed := c.deps.Connectivity.Report(*req.Online)
	status := c.deps.Connectivity.Status()
	return ctx.JSON(http.StatusOK, map[string]any{
		"online":  status.Online,
		"since":   status.Since,
		"changed": changed,
	})
}

// ListNotifications returns the newest notifications, ?limit=N.
func (c *Controller) ListNotifications(ctx echo.Context) error {
	limit := defaultNotificationLimit
	if v := ctx.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return c.HandleError(ctx, badRequest("limit must be a positive integer."), "")
		}
		limit = n
	}
	return ctx.JSON(http.StatusOK, c.deps.Notifications.List(limit))
}

// GetConsent returns the stored consent.
func (c *Controller) GetConsent(ctx echo.Context) error {
	granted, err := c.deps.Consent.ConsentGranted(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Consent could not be read.")
	}
	return ctx.JSON(http.StatusOK, map[string]bool{"granted": granted})
}

// SetConsent grants or revokes consent.
func (c *Controller) SetConsent(ctx echo.Context) error {
	var req ConsentRequest
	if err := ctx.Bind(&req); err != nil || req.Granted == nil {
		return c.HandleError(ctx, badRequest(`Body must be {"granted": true|false}.`), "")
	}
	if err := c.deps.Consent.SetConsent(ctx.Request().Context(), *req.Granted); err != nil {
		return c.HandleError(ctx, err, "Consent could not be saved.")
	}
	c.log.Info("privacy consent updated", logger.Bool("granted", *req.Granted))
	return ctx.JSON(http.StatusOK, map[string]bool{"granted": *req.Granted})
}
