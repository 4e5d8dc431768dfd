package histories

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/hbomb79/Muse/internal/history"
	"github.com/labstack/echo/v4"
)

type (
	// HistoryService is the read surface of the history service this
	// controller serves from.
	HistoryService interface {
		Transfers() ([]*history.Transfer, error)
		Transfer(uuid.UUID) (*history.Transfer, error)
		TransfersForRun(uuid.UUID) ([]*history.Transfer, error)
		LatestSnapshots() ([]*history.LedgerSnapshot, error)
	}

	Controller struct {
		service HistoryService
	}
)

func New(service HistoryService) *Controller {
	return &Controller{service: service}
}

// SetRoutes accepts the Echo group for the history endpoints
// and sets the routes on them.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
	eg.GET("/runs/:id/", controller.listForRun)
	eg.GET("/ledger-snapshots/", controller.listSnapshots)
}

// list returns every persisted transfer, most recent first.
func (controller *Controller) list(ec echo.Context) error {
	transfers, err := controller.service.Transfers()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, transfers)
}

// get uses the 'id' path param from the context and retrieves the persisted
// transfer from the underlying store.
func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Transfer ID is not a valid UUID")
	}

	transfer, err := controller.service.Transfer(id)
	if err != nil {
		if errors.Is(err, history.ErrTransferNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, transfer)
}

// listForRun returns every persisted transfer belonging to the run
// identified by the 'id' path param.
func (controller *Controller) listForRun(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Run ID is not a valid UUID")
	}

	transfers, err := controller.service.TransfersForRun(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, transfers)
}

// listSnapshots returns the most recent ledger snapshot per division.
func (controller *Controller) listSnapshots(ec echo.Context) error {
	snapshots, err := controller.service.LatestSnapshots()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, snapshots)
}
