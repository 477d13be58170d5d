// Package pix exposes the reconciliation service over HTTP for internal
// callers: charge creation, queries, refunds, transfers and operator actions.
package pix

import (
	"log/slog"
	"strings"

	"github.com/amirasaad/pixflow/pkg/config"
	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/middleware"
	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
	pixsvc "github.com/amirasaad/pixflow/pkg/service/pix"
	"github.com/amirasaad/pixflow/webapi/common"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Routes registers the internal Pix API under /api/v1/pix.
//
//   - POST /charges                : create a charge
//   - GET  /charges/txid/:txid     : look a charge up by gateway txid
//   - GET  /charges/:id            : fetch one record
//   - GET  /charges/:id/qrcode     : QR payload and image
//   - POST /charges/:id/refund     : refund a paid charge
//   - POST /charges/:id/cancel     : withdraw an open charge
//   - GET  /charges/:id/gateway    : live gateway view of a charge
//   - GET  /gateway/charges        : charges listed by the gateway (operator)
//   - GET  /gateway/received       : payments credited to the account (operator)
//   - POST /transfers              : send money to a Pix key
//   - GET  /transactions           : filtered listing
//   - GET  /stats                  : per-status totals
//   - GET  /status                 : gateway health
//   - POST /sync, POST /expire     : run a reconciliation pass now (operator)
func Routes(app fiber.Router, svc *pixsvc.Service, auth *config.Jwt, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pix-api")

	g := app.Group("/api/v1/pix", middleware.JwtProtected(auth))
	g.Post("/charges", CreateCharge(svc, logger))
	g.Get("/charges/txid/:txid", GetChargeByTxid(svc))
	g.Get("/charges/:id", GetCharge(svc))
	g.Get("/charges/:id/qrcode", GetQRCode(svc))
	g.Post("/charges/:id/refund", RefundCharge(svc, logger))
	g.Post("/charges/:id/cancel", CancelCharge(svc, logger))
	g.Get("/charges/:id/gateway", GetGatewayCharge(svc))
	operator := middleware.RequireOperator(auth)
	g.Get("/gateway/charges", operator, ListGatewayCharges(svc))
	g.Get("/gateway/received", operator, ListReceivedPix(svc))
	g.Post("/transfers", SendTransfer(svc, logger))
	g.Get("/transactions", ListTransactions(svc))
	g.Get("/stats", GetStats(svc))
	g.Get("/status", GatewayStatus(svc))
	g.Post("/sync", operator, RunSync(svc, logger))
	g.Post("/expire", operator, RunExpire(svc, logger))
}

func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, domain.NewValidationError("id", "must be a valid UUID")
	}
	return id, nil
}

// CreateCharge returns a handler that creates a charge for the caller.
func CreateCharge(svc *pixsvc.Service, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		input, err := common.BindAndValidate[CreateChargeRequest](c)
		if input == nil {
			return err
		}
		tx, err := svc.CreateCharge(c.UserContext(), pixsvc.CreateChargeInput{
			Txid:        input.Txid,
			Amount:      input.Amount,
			Key:         input.Key,
			Description: input.Description,
			Payer:       input.Payer.toDomain(),
			OwnerID:     middleware.OwnerID(c),
			SubjectID:   input.SubjectID,
		})
		if err != nil {
			logger.Error("Failed to create charge", "error", err)
			return common.ProblemDetailsJSON(c, "Failed to create charge", err)
		}
		return c.Status(fiber.StatusCreated).JSON(toChargeResponse(tx))
	}
}

// GetCharge returns a handler that fetches one record by id.
func GetCharge(svc *pixsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid transaction ID", err)
		}
		tx, err := svc.GetTransaction(c.UserContext(), id, middleware.OwnerID(c))
		if err != nil {
			return common.ProblemDetailsJSON(c, "Transaction not available", err)
		}
		return c.JSON(toTransactionDTO(tx))
	}
}

// GetChargeByTxid returns a handler that fetches one record by gateway txid.
func GetChargeByTxid(svc *pixsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tx, err := svc.GetByTxid(c.UserContext(), c.Params("txid"), middleware.OwnerID(c))
		if err != nil {
			return common.ProblemDetailsJSON(c, "Transaction not available", err)
		}
		return c.JSON(toTransactionDTO(tx))
	}
}

// GetQRCode returns a handler serving the QR of a charge.
func GetQRCode(svc *pixsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid transaction ID", err)
		}
		qr, err := svc.QRCode(c.UserContext(), id, middleware.OwnerID(c))
		if err != nil {
			return common.ProblemDetailsJSON(c, "QR code not available", err)
		}
		return c.JSON(QRCodeResponse{Payload: qr.Payload, ImageRef: qr.ImageRef})
	}
}

// RefundCharge returns a handler that refunds a paid charge.
func RefundCharge(svc *pixsvc.Service, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid transaction ID", err)
		}
		input := &RefundRequest{}
		if len(c.Body()) > 0 {
			if input, err = common.BindAndValidate[RefundRequest](c); input == nil {
				return err
			}
		}
		tx, err := svc.RefundCharge(c.UserContext(), pixsvc.RefundInput{
			TransactionID: id,
			Amount:        input.Amount,
			Description:   input.Description,
			OwnerID:       middleware.OwnerID(c),
		})
		if err != nil {
			logger.Warn("Refund rejected", "id", id, "error", err)
			return common.ProblemDetailsJSON(c, "Failed to refund charge", err)
		}
		return c.JSON(RefundResponse{ID: tx.ID.String(), RefundRef: tx.RefundRef, Status: tx.Status})
	}
}

// CancelCharge returns a handler that withdraws an open charge.
func CancelCharge(svc *pixsvc.Service, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid transaction ID", err)
		}
		tx, err := svc.CancelCharge(c.UserContext(), id, middleware.OwnerID(c))
		if err != nil {
			logger.Warn("Cancel rejected", "id", id, "error", err)
			return common.ProblemDetailsJSON(c, "Failed to cancel charge", err)
		}
		return c.JSON(toTransactionDTO(tx))
	}
}

// GetGatewayCharge returns a handler that asks the gateway for a charge.
func GetGatewayCharge(svc *pixsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid transaction ID", err)
		}
		cs, err := svc.GatewayCharge(c.UserContext(), id, middleware.OwnerID(c))
		if err != nil {
			return common.ProblemDetailsJSON(c, "Gateway charge not available", err)
		}
		return c.JSON(toGatewayChargeDTO(*cs))
	}
}

// ListGatewayCharges returns a handler listing charges straight from the gateway.
func ListGatewayCharges(svc *pixsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q, err := parseGatewayQuery(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid query", err)
		}
		list, err := svc.GatewayCharges(c.UserContext(), provider.ListChargesParams{
			Start:  q.start,
			End:    q.end,
			Status: strings.ToUpper(q.Status),
		})
		if err != nil {
			return common.ProblemDetailsJSON(c, "Failed to list gateway charges", err)
		}
		items := make([]GatewayChargeDTO, 0, len(list))
		for _, cs := range list {
			items = append(items, toGatewayChargeDTO(cs))
		}
		return c.JSON(fiber.Map{"items": items})
	}
}

// ListReceivedPix returns a handler listing payments credited to the account.
func ListReceivedPix(svc *pixsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q, err := parseGatewayQuery(c)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid query", err)
		}
		list, err := svc.ReceivedPix(c.UserContext(), provider.ListReceivedParams{
			Start: q.start,
			End:   q.end,
			Txid:  q.Txid,
		})
		if err != nil {
			return common.ProblemDetailsJSON(c, "Failed to list received Pix", err)
		}
		items := make([]ReceivedPixDTO, 0, len(list))
		for _, r := range list {
			items = append(items, toReceivedPixDTO(r))
		}
		return c.JSON(fiber.Map{"items": items})
	}
}

// SendTransfer returns a handler that sends money to a Pix key.
func SendTransfer(svc *pixsvc.Service, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		input, err := common.BindAndValidate[TransferRequest](c)
		if input == nil {
			return err
		}
		tx, err := svc.SendTransfer(c.UserContext(), pixsvc.SendInput{
			Amount:      input.Amount,
			PayeeKey:    input.PayeeKey,
			Description: input.Description,
			Payee:       input.Payee.toDomain(),
			OwnerID:     middleware.OwnerID(c),
			SubjectID:   input.SubjectID,
		})
		if err != nil {
			logger.Error("Failed to send transfer", "error", err)
			return common.ProblemDetailsJSON(c, "Failed to send transfer", err)
		}
		return c.Status(fiber.StatusCreated).JSON(toTransactionDTO(tx))
	}
}

// ListTransactions returns a handler for the filtered listing. Authenticated
// callers only ever see their own records.
func ListTransactions(svc *pixsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var q ListQuery
		if err := c.QueryParser(&q); err != nil {
			return common.ProblemDetailsJSON(c, "Invalid query", domain.NewValidationError("query", err.Error()))
		}
		if err := common.ValidateStruct(q); err != nil {
			return common.ProblemDetailsJSON(c, "Invalid query", domain.NewValidationError("query", err.Error()))
		}
		if owner := middleware.OwnerID(c); owner != "" {
			q.OwnerID = owner
		}
		f, err := q.toFilter()
		if err != nil {
			return common.ProblemDetailsJSON(c, "Invalid query", err)
		}
		txs, total, err := svc.List(c.UserContext(), f)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Failed to list transactions", err)
		}
		resp := ListResponse{Items: make([]TransactionDTO, 0, len(txs)), Total: total}
		for _, tx := range txs {
			resp.Items = append(resp.Items, toTransactionDTO(tx))
		}
		return c.JSON(resp)
	}
}

// GetStats returns a handler for per-status totals.
func GetStats(svc *pixsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		owner := middleware.OwnerID(c)
		if owner == "" {
			owner = c.Query("ownerId")
		}
		stats, err := svc.Stats(c.UserContext(), owner)
		if err != nil {
			return common.ProblemDetailsJSON(c, "Failed to load stats", err)
		}
		return c.JSON(stats)
	}
}

// GatewayStatus returns a handler that probes the gateway.
func GatewayStatus(svc *pixsvc.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(svc.HealthCheck(c.UserContext()))
	}
}

// RunSync returns a handler that runs one sync pass.
func RunSync(svc *pixsvc.Service, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := svc.Sync(c.UserContext())
		if err != nil {
			logger.Error("Manual sync failed", "error", err)
			return common.ProblemDetailsJSON(c, "Sync failed", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Sync finished", res)
	}
}

// RunExpire returns a handler that runs one expiry sweep.
func RunExpire(svc *pixsvc.Service, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		n, err := svc.MarkExpired(c.UserContext())
		if err != nil {
			logger.Error("Manual expiry failed", "error", err)
			return common.ProblemDetailsJSON(c, "Expiry failed", err)
		}
		return common.SuccessResponseJSON(c, fiber.StatusOK, "Expiry finished", fiber.Map{"count": n})
	}
}

func parseGatewayQuery(c *fiber.Ctx) (*gatewayWindow, error) {
	var q GatewayQuery
	if err := c.QueryParser(&q); err != nil {
		return nil, domain.NewValidationError("query", err.Error())
	}
	if err := common.ValidateStruct(q); err != nil {
		return nil, domain.NewValidationError("query", err.Error())
	}
	start, err := parseDate(q.StartDate, false)
	if err != nil {
		return nil, domain.NewValidationError("startDate", err.Error())
	}
	end, err := parseDate(q.EndDate, true)
	if err != nil {
		return nil, domain.NewValidationError("endDate", err.Error())
	}
	w := &gatewayWindow{GatewayQuery: q}
	if start != nil {
		w.start = *start
	}
	if end != nil {
		w.end = *end
	}
	return w, nil
}
