package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shiro-wallet/shirod/internal/core/application"
	"github.com/shiro-wallet/shirod/internal/core/domain"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

type Handler struct {
	version   string
	heartbeat time.Duration
	svc       application.Service

	eventsBroker *broker[transferEvent]
}

const defaultHeartbeat = 15 * time.Second

func NewHandler(version string, svc application.Service, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	h := &Handler{
		version:      version,
		heartbeat:    heartbeat,
		svc:          svc,
		eventsBroker: newBroker[transferEvent](),
	}

	go h.listenToEvents()

	return h
}

// Register mounts every wallet route on the given router.
func (h *Handler) Register(r fiber.Router) {
	r.Get("/healthz", h.Healthz)

	r.Post("/keys", h.GenerateKeys)
	r.Put("/keys", h.RestoreKeys)

	w := r.Group("/wallet")
	w.Put("/", h.Initialize)
	w.Post("/unlock", h.Unlock)
	w.Get("/status", h.Status)
	w.Get("/data", h.Data)
	w.Get("/dir", h.Dir)
	w.Put("/go_online", h.GoOnline)
	w.Put("/go_offline", h.GoOffline)
	w.Get("/address", h.Address)
	w.Put("/utxos", h.CreateUtxos)
	w.Get("/unspents", h.ListUnspents)
	w.Put("/issue", h.Issue)
	w.Get("/assets", h.ListAssets)
	w.Get("/asset_balance/:asset_id", h.AssetBalance)
	w.Put("/invoice", h.CreateInvoice)
	w.Post("/send", h.Send)
	w.Put("/drain_to", h.DrainTo)
	w.Post("/refresh", h.Refresh)
	w.Post("/reconcile", h.Reconcile)
	w.Get("/transfers", h.ListTransfers)
	w.Delete("/transfers", h.DeleteTransfers)
	w.Get("/transfers/:id", h.GetTransfer)
	w.Post("/transfers/:id/cancel", h.CancelTransfer)
	w.Get("/events", h.Events)
}

func (h *Handler) Healthz(c *fiber.Ctx) error {
	status := h.svc.GetStatus(c.UserContext())
	return c.JSON(fiber.Map{
		"version": h.version,
		"status":  toStatus(status),
	})
}

func (h *Handler) GenerateKeys(c *fiber.Ctx) error {
	keys, err := h.svc.GenerateKeys(c.UserContext())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toKeys(keys))
}

func (h *Handler) RestoreKeys(c *fiber.Ctx) error {
	var req restoreKeysRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Mnemonic == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing mnemonic")
	}
	keys, err := h.svc.RestoreKeys(c.UserContext(), req.Mnemonic)
	if err != nil {
		return err
	}
	return c.JSON(toKeys(keys))
}

func (h *Handler) Initialize(c *fiber.Ctx) error {
	var req initWalletRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Mnemonic == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing mnemonic")
	}
	if req.Password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing password")
	}
	id, err := h.svc.Initialize(c.UserContext(), req.Mnemonic, req.Password)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toIdentity(*id))
}

func (h *Handler) Unlock(c *fiber.Ctx) error {
	var req unlockRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing password")
	}
	if err := h.svc.Unlock(c.UserContext(), req.Password); err != nil {
		return err
	}
	return c.JSON(toStatus(h.svc.GetStatus(c.UserContext())))
}

func (h *Handler) Status(c *fiber.Ctx) error {
	return c.JSON(toStatus(h.svc.GetStatus(c.UserContext())))
}

func (h *Handler) Data(c *fiber.Ctx) error {
	data, err := h.svc.GetData(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(toData(data))
}

func (h *Handler) Dir(c *fiber.Ctx) error {
	data, err := h.svc.GetData(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"datadir": data.Datadir})
}

func (h *Handler) GoOnline(c *fiber.Ctx) error {
	var req goOnlineRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.ChainURL == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing chain url")
	}
	if req.RelayURL == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing relay url")
	}
	handle, err := h.svc.GoOnline(c.UserContext(), req.ChainURL, req.RelayURL)
	if err != nil {
		return err
	}
	return c.JSON(toOnline(handle))
}

func (h *Handler) GoOffline(c *fiber.Ctx) error {
	if err := h.svc.GoOffline(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(toStatus(h.svc.GetStatus(c.UserContext())))
}

func (h *Handler) Address(c *fiber.Ctx) error {
	addr, err := h.svc.GetAddress(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"address": addr})
}

func (h *Handler) CreateUtxos(c *fiber.Ctx) error {
	var req createUtxosRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	t, err := h.svc.CreateUtxos(c.UserContext(), application.CreateUtxosRequest{
		Count:   req.Count,
		Size:    req.Size,
		FeeRate: req.FeeRate,
	})
	if err != nil {
		return err
	}
	return c.JSON(toTransfer(*t))
}

func (h *Handler) ListUnspents(c *fiber.Ctx) error {
	unspents, err := h.svc.ListUnspents(c.UserContext(), c.QueryBool("include_spent", false))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"unspents": toUnspents(unspents)})
}

func (h *Handler) Issue(c *fiber.Ctx) error {
	var req issueRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	contract, err := h.svc.Issue(c.UserContext(), application.IssueRequest{
		Ticker:      req.Ticker,
		Name:        req.Name,
		TotalSupply: req.TotalSupply,
		Precision:   req.Precision,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toAsset(*contract))
}

func (h *Handler) ListAssets(c *fiber.Ctx) error {
	assets, err := h.svc.ListAssets(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"assets": toAssets(assets)})
}

func (h *Handler) AssetBalance(c *fiber.Ctx) error {
	bal, err := h.svc.GetAssetBalance(c.UserContext(), c.Params("asset_id"))
	if err != nil {
		return err
	}
	return c.JSON(toBalance(*bal))
}

func (h *Handler) CreateInvoice(c *fiber.Ctx) error {
	var req invoiceRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	invoice, err := h.svc.CreateInvoice(c.UserContext(), req.AssetID, req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(toInvoice(invoice))
}

func (h *Handler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Invoice == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing invoice")
	}
	t, err := h.svc.Send(c.UserContext(), application.SendRequest{
		AssetID: req.AssetID,
		Amount:  req.Amount,
		Invoice: req.Invoice,
		FeeRate: req.FeeRate,
	})
	if err != nil {
		return err
	}
	return c.JSON(toTransfer(*t))
}

func (h *Handler) DrainTo(c *fiber.Ctx) error {
	var req drainToRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Address == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing address")
	}
	t, err := h.svc.DrainTo(c.UserContext(), req.Address, req.FeeRate)
	if err != nil {
		return err
	}
	return c.JSON(toTransfer(*t))
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	report, err := h.svc.Refresh(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(toRefresh(report))
}

func (h *Handler) Reconcile(c *fiber.Ctx) error {
	if err := h.svc.Reconcile(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"consistent": true})
}

func (h *Handler) ListTransfers(c *fiber.Ctx) error {
	transfers, err := h.svc.ListTransfers(c.UserContext(), c.Query("asset_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transfers": toTransfers(transfers)})
}

func (h *Handler) GetTransfer(c *fiber.Ctx) error {
	t, err := h.svc.GetTransfer(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toTransfer(*t))
}

func (h *Handler) CancelTransfer(c *fiber.Ctx) error {
	t, err := h.svc.CancelTransfer(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toTransfer(*t))
}

func (h *Handler) DeleteTransfers(c *fiber.Ctx) error {
	var req deleteTransfersRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	count, err := h.svc.DeleteTransfers(c.UserContext(), req.TransferIDs)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"deleted": count})
}

// Events streams transfer status changes as server-sent events. The optional comma separated
// topics query param filters them by transfer or asset id.
func (h *Handler) Events(c *fiber.Ctx) error {
	var topics []string
	if t := c.Query("topics"); t != "" {
		topics = strings.Split(t, ",")
	}
	l := newListener[transferEvent](uuid.NewString(), topics)
	h.eventsBroker.pushListener(l)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	ctx := c.Context()
	ctx.SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.eventsBroker.removeListener(l.id)
		if err := h.stream(l, w); err != nil {
			log.WithError(err).WithField("listener", l.id).Debug("event stream closed")
		}
	}))
	return nil
}

func (h *Handler) stream(l *listener[transferEvent], w *bufio.Writer) error {
	timer := time.NewTimer(h.heartbeat)
	defer timer.Stop()

	resetTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(h.heartbeat)
	}

	for {
		select {
		case ev := <-l.ch:
			buf, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: transfer\ndata: %s\n\n", buf); err != nil {
				return err
			}
		case <-timer.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return err
			}
		}
		// Flush fails once the client went away.
		if err := w.Flush(); err != nil {
			return err
		}
		resetTimer()
	}
}

// listenToEvents forwards the transfer events of the application layer to the open streams.
func (h *Handler) listenToEvents() {
	for event := range h.svc.GetTransferEventsChannel(context.Background()) {
		if !h.eventsBroker.hasListeners() {
			continue
		}
		ev := transferEvent{
			Transfer: toTransfer(event.Transfer),
			From:     string(event.From),
		}
		h.eventsBroker.publish(ev, eventTopics(event.Transfer))
	}
}

func eventTopics(t domain.Transfer) []string {
	topics := []string{t.ID}
	if t.AssetID != "" {
		topics = append(topics, t.AssetID)
	}
	return topics
}

func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err))
	}
	return nil
}
