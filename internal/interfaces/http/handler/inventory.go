package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	appinv "github.com/dms/backend/internal/application/inventory"
	"github.com/dms/backend/internal/domain/inventory"
	"github.com/dms/backend/internal/interfaces/http/dto"
	"github.com/dms/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InventoryHandler exposes the stock engine over HTTP
type InventoryHandler struct {
	BaseHandler
	core  *appinv.CoreService
	stock *appinv.StockService
}

// NewInventoryHandler creates a new InventoryHandler
func NewInventoryHandler(core *appinv.CoreService, stock *appinv.StockService) *InventoryHandler {
	return &InventoryHandler{core: core, stock: stock}
}

// RegisterRoutes mounts the inventory API under the given group
func (h *InventoryHandler) RegisterRoutes(rg *gin.RouterGroup) {
	inv := rg.Group("/inventory")

	inv.GET("/view", h.GetInventoryView)
	inv.GET("/items/:itemID/balance", h.GetStockBalance)
	inv.GET("/items/:itemID/lots", h.GetAvailableLots)
	inv.GET("/items/:itemID/lots/:lotNumber", h.GetLot)
	inv.POST("/items/:itemID/allocation-plan", h.PlanAllocation)
	inv.GET("/items/:itemID/serials/:serialNumber", h.GetSerial)
	inv.PATCH("/items/:itemID/serials/:serialNumber/status", h.UpdateSerialStatus)

	inv.POST("/lots", h.CreateLot)
	inv.GET("/lots/expiring", h.GetExpiringLots)

	inv.POST("/receipts", h.ReceiveStock)
	inv.POST("/opening-stock", h.RecordOpeningStock)
	inv.POST("/issues", h.IssueStock)
	inv.POST("/returns", h.ReturnStock)
	inv.POST("/purchase-returns", h.PurchaseReturn)
	inv.POST("/reservations", h.ReserveStock)
	inv.POST("/reservations/release", h.ReleaseReservation)

	inv.GET("/transactions", h.ListTransactions)
	inv.GET("/transactions/:number", h.GetTransaction)
}

func requireDistributor(c *gin.Context) (uuid.UUID, bool) {
	distributorID, ok := middleware.GetDistributorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized,
			dto.NewErrorResponse("MISSING_DISTRIBUTOR", "Distributor identity is required"))
	}
	return distributorID, ok
}

func optionalWarehouseID(c *gin.Context) (*uuid.UUID, error) {
	raw := c.Query("warehouse_id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// GetStockBalance returns the derived position of one item
// GET /api/v1/inventory/items/:itemID/balance
func (h *InventoryHandler) GetStockBalance(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		h.BadRequest(c, err)
		return
	}
	warehouseID, err := optionalWarehouseID(c)
	if err != nil {
		h.BadRequest(c, err)
		return
	}

	balance, err := h.core.GetStockBalance(c.Request.Context(), distributorID, warehouseID, itemID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, balance)
}

// GetInventoryView returns the warehouse-wide stock summary
// GET /api/v1/inventory/view
func (h *InventoryHandler) GetInventoryView(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	warehouseID, err := optionalWarehouseID(c)
	if err != nil {
		h.BadRequest(c, err)
		return
	}

	view, err := h.core.GetInventoryView(c.Request.Context(), distributorID, warehouseID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, view)
}

// GetAvailableLots returns the usable lots of an item in FEFO order
// GET /api/v1/inventory/items/:itemID/lots
func (h *InventoryHandler) GetAvailableLots(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		h.BadRequest(c, err)
		return
	}
	warehouseID, err := optionalWarehouseID(c)
	if err != nil {
		h.BadRequest(c, err)
		return
	}

	lots, err := h.core.GetAvailableLots(c.Request.Context(), distributorID, warehouseID, itemID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, lots)
}

// PlanAllocationRequest previews an allocation without committing it
type PlanAllocationRequest struct {
	Quantity    decimal.Decimal `json:"quantity" binding:"required,decimalgt0"`
	LotNumber   string          `json:"lot_number"`
	WarehouseID *uuid.UUID      `json:"warehouse_id"`
}

// PlanAllocation previews which lots an issue would draw from
// POST /api/v1/inventory/items/:itemID/allocation-plan
func (h *InventoryHandler) PlanAllocation(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		h.BadRequest(c, err)
		return
	}
	var req PlanAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err)
		return
	}

	plan, err := h.core.PlanAllocation(c.Request.Context(), distributorID, req.WarehouseID, itemID, req.Quantity, req.LotNumber)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, plan)
}

// GetLot returns one lot with its derived availability
// GET /api/v1/inventory/items/:itemID/lots/:lotNumber
func (h *InventoryHandler) GetLot(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		h.BadRequest(c, err)
		return
	}

	lot, err := h.core.GetLotByNumber(c.Request.Context(), distributorID, itemID, c.Param("lotNumber"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, lot)
}

// CreateLot registers a lot ahead of receiving stock
// POST /api/v1/inventory/lots
func (h *InventoryHandler) CreateLot(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	var req appinv.CreateLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err)
		return
	}
	req.DistributorID = distributorID
	req.UserID = middleware.GetUserID(c)

	lot, err := h.core.CreateLot(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, lot)
}

// GetExpiringLots returns lots expiring within ?days (default 30)
// GET /api/v1/inventory/lots/expiring
func (h *InventoryHandler) GetExpiringLots(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	warehouseID, err := optionalWarehouseID(c)
	if err != nil {
		h.BadRequest(c, err)
		return
	}
	days := 30
	if raw := c.Query("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days < 1 {
			h.BadRequest(c, err)
			return
		}
	}

	lots, err := h.core.GetExpiringLots(c.Request.Context(), distributorID, warehouseID, days)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, lots)
}

// GetSerial returns one serialized unit
// GET /api/v1/inventory/items/:itemID/serials/:serialNumber
func (h *InventoryHandler) GetSerial(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		h.BadRequest(c, err)
		return
	}

	serial, err := h.core.GetSerialByNumber(c.Request.Context(), distributorID, itemID, c.Param("serialNumber"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, serial)
}

// UpdateSerialStatus drives an explicit serial state transition
// PATCH /api/v1/inventory/items/:itemID/serials/:serialNumber/status
func (h *InventoryHandler) UpdateSerialStatus(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		h.BadRequest(c, err)
		return
	}

	var body struct {
		TargetStatus inventory.SerialStatus `json:"target_status" binding:"required"`
		OwnerID      *uuid.UUID             `json:"owner_id"`
		Remarks      string                 `json:"remarks"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.BadRequest(c, err)
		return
	}

	serial, err := h.core.UpdateSerialStatus(c.Request.Context(), appinv.UpdateSerialStatusRequest{
		DistributorID: distributorID,
		ItemID:        itemID,
		SerialNumber:  c.Param("serialNumber"),
		TargetStatus:  body.TargetStatus,
		OwnerID:       body.OwnerID,
		Remarks:       body.Remarks,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, serial)
}

// ListTransactions returns a page of the ledger
// GET /api/v1/inventory/transactions
func (h *InventoryHandler) ListTransactions(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}

	filter, err := parseTransactionFilter(c)
	if err != nil {
		h.BadRequest(c, err)
		return
	}

	page, err := h.core.ListTransactions(c.Request.Context(), distributorID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, page)
}

// GetTransaction returns one ledger entry by its number
// GET /api/v1/inventory/transactions/:number
func (h *InventoryHandler) GetTransaction(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}

	txn, err := h.core.GetTransactionByNumber(c.Request.Context(), distributorID, c.Param("number"))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, txn)
}

// ReceiveStock commits a goods receipt
// POST /api/v1/inventory/receipts
func (h *InventoryHandler) ReceiveStock(c *gin.Context) {
	h.runReceive(c, h.stock.ReceiveStock)
}

// RecordOpeningStock commits an opening stock entry
// POST /api/v1/inventory/opening-stock
func (h *InventoryHandler) RecordOpeningStock(c *gin.Context) {
	h.runReceive(c, h.stock.RecordOpeningStock)
}

func (h *InventoryHandler) runReceive(c *gin.Context, fn func(ctx context.Context, req appinv.ReceiveStockRequest) (appinv.StockOperationResult, error)) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	var req appinv.ReceiveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err)
		return
	}
	req.DistributorID = distributorID
	req.UserID = middleware.GetUserID(c)

	result, err := fn(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, result)
}

// IssueStock commits a stock issue
// POST /api/v1/inventory/issues
func (h *InventoryHandler) IssueStock(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	var req appinv.IssueStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err)
		return
	}
	req.DistributorID = distributorID
	req.UserID = middleware.GetUserID(c)

	result, err := h.stock.IssueStock(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, result)
}

// ReturnStock commits a customer return
// POST /api/v1/inventory/returns
func (h *InventoryHandler) ReturnStock(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	var req appinv.ReturnStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err)
		return
	}
	req.DistributorID = distributorID
	req.UserID = middleware.GetUserID(c)

	result, err := h.stock.ReturnStock(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, result)
}

// PurchaseReturn commits a return to the supplier
// POST /api/v1/inventory/purchase-returns
func (h *InventoryHandler) PurchaseReturn(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	var req appinv.PurchaseReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err)
		return
	}
	req.DistributorID = distributorID
	req.UserID = middleware.GetUserID(c)

	result, err := h.stock.PurchaseReturn(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, result)
}

// ReserveStock holds stock for a pending order
// POST /api/v1/inventory/reservations
func (h *InventoryHandler) ReserveStock(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	var req appinv.ReserveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err)
		return
	}
	req.DistributorID = distributorID
	req.UserID = middleware.GetUserID(c)

	result, err := h.stock.ReserveStock(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, result)
}

// ReleaseReservation returns reserved stock to the available pool
// POST /api/v1/inventory/reservations/release
func (h *InventoryHandler) ReleaseReservation(c *gin.Context) {
	distributorID, ok := requireDistributor(c)
	if !ok {
		return
	}
	var req appinv.ReleaseReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err)
		return
	}
	req.DistributorID = distributorID
	req.UserID = middleware.GetUserID(c)

	result, err := h.stock.ReleaseReservation(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, result)
}

func parseTransactionFilter(c *gin.Context) (inventory.TransactionFilter, error) {
	var filter inventory.TransactionFilter

	if raw := c.Query("item_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, err
		}
		filter.ItemID = &id
	}
	if raw := c.Query("warehouse_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, err
		}
		filter.WarehouseID = &id
	}
	if raw := c.Query("lot_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, err
		}
		filter.LotID = &id
	}
	if raw := c.Query("type"); raw != "" {
		txType := inventory.TransactionType(raw)
		filter.TransactionType = &txType
	}
	filter.ReferenceType = c.Query("reference_type")
	if raw := c.Query("reference_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, err
		}
		filter.ReferenceID = &id
	}
	if raw := c.Query("from"); raw != "" {
		t, err := parseDateTime(raw)
		if err != nil {
			return filter, err
		}
		filter.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseDateTime(raw)
		if err != nil {
			return filter, err
		}
		filter.To = &t
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return filter, err
		}
		filter.Page = page
	}
	if raw := c.Query("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return filter, err
		}
		filter.PageSize = size
	}
	return filter, nil
}

func parseDateTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
