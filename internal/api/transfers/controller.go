package transfers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/hbomb79/Muse/internal/transfer"
	"github.com/labstack/echo/v4"
)

type (
	// TransferDto is the response used by endpoints that return
	// the items being transferred (e.g., list, get)
	TransferDto struct {
		Id       uuid.UUID         `json:"id"`
		Position int               `json:"row_position"`
		State    TransferStateDto  `json:"state"`
		Stage    string            `json:"stage"`
		Trouble  *TroubleDto       `json:"trouble"`
		Receipt  *transfer.Receipt `json:"receipt"`
	}

	TransferStateDto string
	TroubleTypeDto   string

	TroubleDto struct {
		Type     TroubleTypeDto `json:"type"`
		Message  string         `json:"message"`
		FailedAt string         `json:"failed_at"`
	}

	TransferService interface {
		AllItems() []*transfer.TransferItem
		Item(uuid.UUID) *transfer.TransferItem
		RemoveTransfer(uuid.UUID) error
		RetryTransfer(uuid.UUID) error
		DiscoverNewRecords()
	}

	// Controller is the struct which is responsible for defining the
	// routes for this controller. Additionally, it holds the reference to
	// the service used to retrieve information about transfers from Muse
	Controller struct {
		service TransferService
	}
)

const (
	IDLE       TransferStateDto = "IDLE"
	PROCESSING TransferStateDto = "PROCESSING"
	SKIPPED    TransferStateDto = "SKIPPED"
	TROUBLED   TransferStateDto = "TROUBLED"
	COMPLETE   TransferStateDto = "COMPLETE"

	MALFORMED_ROW    TroubleTypeDto = "MALFORMED_ROW"
	NAMING_FAILURE   TroubleTypeDto = "NAMING_FAILURE"
	TRANSFER_FAILURE TroubleTypeDto = "TRANSFER_FAILURE"
	CLEANUP_FAILURE  TroubleTypeDto = "CLEANUP_FAILURE"
	COMMIT_FAILURE   TroubleTypeDto = "COMMIT_FAILURE"
	UNKNOWN_FAILURE  TroubleTypeDto = "UNKNOWN_FAILURE"
)

func New(service TransferService) *Controller {
	return &Controller{service: service}
}

// SetRoutes accepts the Echo group for the transfer endpoints
// and sets the routes on them.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.POST("/poll/", controller.performPoll)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.delete)
	eg.POST("/:id/retry/", controller.postRetry)
}

// list returns all the transfers - represented as DTOs - from the underlying service.
func (controller *Controller) list(ec echo.Context) error {
	items := controller.service.AllItems()
	dtos := make([]*TransferDto, len(items))
	for k, v := range items {
		dtos[k] = NewDto(v)
	}

	return ec.JSON(http.StatusOK, dtos)
}

// get uses the 'id' path param from the context and retrieves the transfer from the
// underlying service. If found, a DTO representing the transfer is returned
func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Transfer ID is not a valid UUID")
	}

	item := controller.service.Item(id)
	if item == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, NewDto(item))
}

// delete uses the 'id' path param from the context and retrieves the transfer from the
// underlying service. If found, the transfer is removed from the queue.
func (controller *Controller) delete(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Transfer ID is not a valid UUID")
	}

	if err := controller.service.RemoveTransfer(id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

// postRetry uses the 'id' path param from the context and moves the troubled
// transfer it names back in to the queue.
func (controller *Controller) postRetry(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Transfer ID is not a valid UUID")
	}

	if err := controller.service.RetryTransfer(id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

func (controller *Controller) performPoll(ec echo.Context) error {
	controller.service.DiscoverNewRecords()

	return ec.NoContent(http.StatusOK)
}

// NewDto creates a TransferDto using the TransferItem model.
func NewDto(item *transfer.TransferItem) *TransferDto {
	var trbl *TroubleDto = nil
	if item.Trouble != nil {
		trbl = &TroubleDto{
			Type:     TroubleTypeToDto(item.Trouble.Type()),
			Message:  item.Trouble.Error(),
			FailedAt: item.Trouble.FailedAt().String(),
		}
	}

	return &TransferDto{
		Id:       item.ID,
		Position: item.Position,
		State:    TransferStateToDto(item.State),
		Stage:    item.Stage.String(),
		Trouble:  trbl,
		Receipt:  item.Receipt,
	}
}

func TransferStateToDto(state transfer.TransferItemState) TransferStateDto {
	switch state {
	case transfer.IDLE:
		return IDLE
	case transfer.PROCESSING:
		return PROCESSING
	case transfer.SKIPPED:
		return SKIPPED
	case transfer.TROUBLED:
		return TROUBLED
	case transfer.COMPLETE:
		return COMPLETE
	default:
		return TransferStateDto("UNKNOWN")
	}
}

func TroubleTypeToDto(troubleType transfer.TroubleType) TroubleTypeDto {
	switch troubleType {
	case transfer.MALFORMED_ROW:
		return MALFORMED_ROW
	case transfer.NAMING_FAILURE:
		return NAMING_FAILURE
	case transfer.TRANSFER_FAILURE:
		return TRANSFER_FAILURE
	case transfer.CLEANUP_FAILURE:
		return CLEANUP_FAILURE
	case transfer.COMMIT_FAILURE:
		return COMMIT_FAILURE
	default:
		return UNKNOWN_FAILURE
	}
}
