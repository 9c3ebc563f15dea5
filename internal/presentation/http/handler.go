package httppresentation

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Zhima-Mochi/keyshop/internal/application"
	appcatalog "github.com/Zhima-Mochi/keyshop/internal/application/catalog"
	appinventory "github.com/Zhima-Mochi/keyshop/internal/application/inventory"
	apppurchase "github.com/Zhima-Mochi/keyshop/internal/application/purchase"
	appsupport "github.com/Zhima-Mochi/keyshop/internal/application/support"
	"github.com/Zhima-Mochi/keyshop/internal/domain/access"
	domcatalog "github.com/Zhima-Mochi/keyshop/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/keyshop/internal/domain/inventory"
	dompurchase "github.com/Zhima-Mochi/keyshop/internal/domain/purchase"
	domselection "github.com/Zhima-Mochi/keyshop/internal/domain/selection"
	"github.com/Zhima-Mochi/keyshop/internal/observability"
	"github.com/Zhima-Mochi/keyshop/internal/observability/logctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// UseCases is everything the webhook surface dispatches to.
type UseCases struct {
	SelectProduct   application.UseCase[apppurchase.SelectProductInput, *apppurchase.SelectProductResult]
	IssueInvoice    application.UseCase[apppurchase.IssueInvoiceInput, *dompurchase.Invoice]
	PreCheckout     application.UseCase[string, *dompurchase.PreCheckoutDecision]
	Settle          application.UseCase[apppurchase.SettleInput, *dompurchase.Outcome]
	CreateProduct   application.UseCase[appcatalog.CreateProductInput, *domcatalog.Product]
	RemoveProduct   application.UseCase[string, struct{}]
	ListProducts    application.UseCase[struct{}, []appcatalog.ProductView]
	AppendKeys      application.UseCase[appinventory.AppendKeysInput, *appinventory.AppendKeysResult]
	StockReport     application.UseCase[struct{}, []dominv.StockLevel]
	PurchaseHistory application.UseCase[string, *appsupport.PurchaseHistory]
}

type Handler struct {
	uc      UseCases
	policy  access.Policy
	secret  []byte
	feed    http.Handler
	metrics http.Handler
	log     observability.Logger
	tel     observability.Observability
}

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerUserID         = "X-User-ID"
	headerWebhookSecret  = "X-Telegram-Bot-Api-Secret-Token"
	maxBodyBytes         = 1 << 20
)

var (
	errForbidden      = errors.New("http: admin rights required")
	errUnauthorized   = errors.New("http: webhook secret mismatch")
	errUserIDRequired = errors.New("http: user_id is required")
)

// NewHandler wires the routes. Every route except /health and /metrics must
// carry secret in the X-Telegram-Bot-Api-Secret-Token header; an empty secret
// rejects them all. feed serves the admin websocket and metrics the Prometheus
// scrape endpoint; either may be nil.
func NewHandler(uc UseCases, policy access.Policy, secret string, feed, metrics http.Handler, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	if policy == nil {
		policy = access.NewStaticPolicy()
	}
	return &Handler{
		uc:      uc,
		policy:  policy,
		secret:  []byte(secret),
		feed:    feed,
		metrics: metrics,
		log:     tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:     tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Trace → ObservabilityMiddleware (request logger + HTTP metrics) → Access log → Secret → Handler
	h.muxHandle(mux, http.MethodPost, "/events/product-chosen", h.handleProductChosen)
	h.muxHandle(mux, http.MethodPost, "/events/quantity-chosen", h.handleQuantityChosen)
	h.muxHandle(mux, http.MethodPost, "/events/pre-checkout", h.handlePreCheckout)
	h.muxHandle(mux, http.MethodPost, "/events/payment-settled", h.handlePaymentSettled)

	h.muxHandle(mux, http.MethodPost, "/admin/products", h.withAdmin(h.handleCreateProduct))
	h.muxHandle(mux, http.MethodPost, "/admin/products/{name}/keys", h.withAdmin(h.handleAppendKeys))
	h.muxHandle(mux, http.MethodDelete, "/admin/products/{name}", h.withAdmin(h.handleRemoveProduct))
	h.muxHandle(mux, http.MethodGet, "/admin/inventory", h.withAdmin(h.handleInventory))
	if h.feed != nil {
		h.muxHandle(mux, http.MethodGet, "/admin/feed", h.withAdmin(h.feed.ServeHTTP))
	}

	h.muxHandle(mux, http.MethodGet, "/products", h.handleListProducts)
	h.muxHandle(mux, http.MethodGet, "/support/{userID}", h.handleSupport)
	h.muxHandlePublic(mux, http.MethodGet, "/health", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, method, route string, handler http.HandlerFunc) {
	h.muxHandlePublic(mux, method, route, h.withWebhookSecret(handler))
}

// muxHandlePublic registers a route that skips the webhook secret check.
func (h *Handler) muxHandlePublic(mux *http.ServeMux, method, route string, handler http.HandlerFunc) {
	template := method + " " + route
	wrapped := h.withTrace(
		ObservabilityMiddleware(
			h.log,
			func(r *http.Request) string {
				return r.Header.Get(headerRequestID)
			},
			func(r *http.Request) string {
				return r.Header.Get(headerUserID)
			},
			h.tel,
		)(
			h.withAccessLog(handler),
		),
	)
	mux.HandleFunc(template, func(w http.ResponseWriter, r *http.Request) {
		// Store stable route template for low-cardinality labels
		r = r.WithContext(contextWithRoute(r.Context(), template))
		wrapped.ServeHTTP(w, r)
	})
}

// withWebhookSecret rejects requests that do not carry the shared secret. The
// user ids in bodies and X-User-ID are only trusted past this check.
func (h *Handler) withWebhookSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(headerWebhookSecret))
		if len(h.secret) == 0 || subtle.ConstantTimeCompare(got, h.secret) != 1 {
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		next(w, r)
	}
}

// withAdmin lets the request through only when X-User-ID names an administrator.
func (h *Handler) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.policy.IsAdmin(r.Header.Get(headerUserID)) {
			writeError(w, http.StatusForbidden, errForbidden)
			return
		}
		next(w, r)
	}
}

type productChosenRequest struct {
	UserID  string `json:"user_id"`
	Product string `json:"product"`
}

type productResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Available   int    `json:"available"`
}

func (h *Handler) handleProductChosen(w http.ResponseWriter, r *http.Request) {
	var req productChosenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, errUserIDRequired)
		return
	}

	res, err := h.uc.SelectProduct.Execute(r.Context(), apppurchase.SelectProductInput{
		UserID:  req.UserID,
		Product: req.Product,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, productResponse{
		Name:        res.Product.Name,
		Description: res.Product.Description,
		Price:       res.Product.Price,
		Available:   res.Available,
	})
}

type quantityChosenRequest struct {
	UserID   string `json:"user_id"`
	Product  string `json:"product,omitempty"`
	Quantity int    `json:"quantity"`
}

type labeledPrice struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

type invoiceResponse struct {
	InvoiceID   string         `json:"invoice_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Payload     string         `json:"payload"`
	Currency    string         `json:"currency"`
	Prices      []labeledPrice `json:"prices"`
	Total       int64          `json:"total"`
}

func (h *Handler) handleQuantityChosen(w http.ResponseWriter, r *http.Request) {
	var req quantityChosenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, errUserIDRequired)
		return
	}

	inv, err := h.uc.IssueInvoice.Execute(r.Context(), apppurchase.IssueInvoiceInput{
		UserID:   req.UserID,
		Product:  req.Product,
		Quantity: req.Quantity,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, invoiceResponse{
		InvoiceID:   inv.InvoiceID,
		Title:       inv.Title,
		Description: inv.Description,
		Payload:     inv.Payload,
		Currency:    inv.Currency,
		Prices:      []labeledPrice{{Label: inv.Label, Amount: inv.Total}},
		Total:       inv.Total,
	})
}

type preCheckoutRequest struct {
	QueryID string `json:"query_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Payload string `json:"payload"`
}

type preCheckoutResponse struct {
	QueryID      string `json:"query_id,omitempty"`
	OK           bool   `json:"ok"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (h *Handler) handlePreCheckout(w http.ResponseWriter, r *http.Request) {
	var req preCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	decision, err := h.uc.PreCheckout.Execute(r.Context(), req.Payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, preCheckoutResponse{
		QueryID:      req.QueryID,
		OK:           decision.OK,
		ErrorMessage: decision.Reason,
	})
}

type paymentSettledRequest struct {
	UserID   string `json:"user_id"`
	Payload  string `json:"payload"`
	ChargeID string `json:"charge_id"`
}

type settlementResponse struct {
	Status    dompurchase.Status `json:"status"`
	Product   string             `json:"product,omitempty"`
	Quantity  int                `json:"quantity,omitempty"`
	ChargeID  string             `json:"charge_id"`
	Keys      []string           `json:"keys"`
	Message   string             `json:"message"`
	Persisted bool               `json:"persisted"`
}

func (h *Handler) handlePaymentSettled(w http.ResponseWriter, r *http.Request) {
	var req paymentSettledRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, errUserIDRequired)
		return
	}
	if req.ChargeID == "" {
		writeError(w, http.StatusBadRequest, errors.New("http: charge_id is required"))
		return
	}

	out, err := h.uc.Settle.Execute(r.Context(), apppurchase.SettleInput{
		UserID:   req.UserID,
		Payload:  req.Payload,
		ChargeID: req.ChargeID,
	})
	if out == nil {
		writeDomainError(w, err)
		return
	}
	// Money moved and keys may already be gone from the pool, so the buyer
	// gets the outcome even when the state could not be written.
	if err != nil {
		logctx.FromOr(r.Context(), h.log).Error("settlement_not_persisted",
			observability.F("charge_id", req.ChargeID),
			observability.F("error", err),
		)
	}

	keys := out.Keys
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, settlementResponse{
		Status:    out.Status,
		Product:   out.Product,
		Quantity:  out.Quantity,
		ChargeID:  out.ChargeID,
		Keys:      keys,
		Message:   settlementMessage(out),
		Persisted: err == nil,
	})
}

func settlementMessage(out *dompurchase.Outcome) string {
	if out.Status == dompurchase.StatusSettled {
		return "Thank you for your purchase! Your card keys are:\n" + strings.Join(out.Keys, "\n") + "\nCharge ID: " + out.ChargeID
	}
	return "Sorry, '" + out.Product + "' is out of stock.\nCharge ID: " + out.ChargeID
}

type createProductResponse struct {
	productResponse
	Persisted bool `json:"persisted"`
}

type createProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.uc.CreateProduct.Execute(r.Context(), appcatalog.CreateProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
	})
	if p == nil {
		writeDomainError(w, err)
		return
	}
	h.logNotPersisted(r, err)

	writeJSON(w, http.StatusCreated, createProductResponse{
		productResponse: productResponse{
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
		},
		Persisted: err == nil,
	})
}

// logNotPersisted records a mutation that is live in memory but missing from
// the snapshot. It is a no-op for a nil error.
func (h *Handler) logNotPersisted(r *http.Request, err error) {
	if err == nil {
		return
	}
	logctx.FromOr(r.Context(), h.log).Error("change_not_persisted",
		observability.F("route", routeFromContext(r.Context())),
		observability.F("error", err),
	)
}

type appendKeysRequest struct {
	Keys []string `json:"keys"`
	// Text takes one key per line, as pasted into the admin chat.
	Text string `json:"text"`
}

type appendKeysResponse struct {
	Product   string `json:"product"`
	Added     int    `json:"added"`
	Available int    `json:"available"`
	Persisted bool   `json:"persisted"`
}

func (h *Handler) handleAppendKeys(w http.ResponseWriter, r *http.Request) {
	var req appendKeysRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	name := r.PathValue("name")
	keys := append(req.Keys, appinventory.ParseKeyLines(req.Text)...)
	res, err := h.uc.AppendKeys.Execute(r.Context(), appinventory.AppendKeysInput{Product: name, Keys: keys})
	if res == nil {
		writeDomainError(w, err)
		return
	}
	h.logNotPersisted(r, err)

	writeJSON(w, http.StatusOK, appendKeysResponse{
		Product:   name,
		Added:     res.Added,
		Available: res.Available,
		Persisted: err == nil,
	})
}

func (h *Handler) handleRemoveProduct(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	_, err := h.uc.RemoveProduct.Execute(r.Context(), name)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, application.ErrNotPersisted):
		h.logNotPersisted(r, err)
		writeJSON(w, http.StatusOK, map[string]any{"product": name, "persisted": false})
	default:
		writeDomainError(w, err)
	}
}

type stockLevelResponse struct {
	Product   string `json:"product"`
	Available int    `json:"available"`
}

func (h *Handler) handleInventory(w http.ResponseWriter, r *http.Request) {
	levels, err := h.uc.StockReport.Execute(r.Context(), struct{}{})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]stockLevelResponse, 0, len(levels))
	for _, l := range levels {
		out = append(out, stockLevelResponse{Product: l.Product, Available: l.Available})
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": out})
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.uc.ListProducts.Execute(r.Context(), struct{}{})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, productResponse{
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
			Available:   p.Available,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": out})
}

type supportResponse struct {
	UserID    string   `json:"user_id"`
	ChargeIDs []string `json:"charge_ids"`
	Contact   string   `json:"contact,omitempty"`
	Message   string   `json:"message"`
}

// handleSupport shows a buyer their own charges. Administrators may look up anyone.
func (h *Handler) handleSupport(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	caller := r.Header.Get(headerUserID)
	if caller != userID && !h.policy.IsAdmin(caller) {
		writeError(w, http.StatusForbidden, errors.New("http: purchase history is private"))
		return
	}

	res, err := h.uc.PurchaseHistory.Execute(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, supportResponse{
		UserID:    res.UserID,
		ChargeIDs: res.ChargeIDs,
		Contact:   res.Contact,
		Message:   supportMessage(res),
	})
}

func supportMessage(res *appsupport.PurchaseHistory) string {
	var b strings.Builder
	if len(res.ChargeIDs) == 0 {
		b.WriteString("Sorry, but we found no transaction related to you.")
	} else {
		b.WriteString("Your transactions:")
		for _, id := range res.ChargeIDs {
			b.WriteString("\n\norder id: ")
			b.WriteString(id)
		}
	}
	if res.Contact != "" {
		b.WriteString("\n\nIf you have any question, please contact ")
		b.WriteString(res.Contact)
		b.WriteString(" and ask for support.")
	}
	return b.String()
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("keyshop.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := route
		if spanName == "unknown" {
			spanName = r.Method + " " + r.URL.Path
		}
		template := route
		if idx := strings.Index(template, " "); idx >= 0 {
			template = template[idx+1:]
		}
		if template == "unknown" || template == "" {
			template = r.URL.Path
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", template),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type shortfallResponse struct {
	Error     string `json:"error"`
	Product   string `json:"product"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Message   string `json:"message"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	var shortfall *dominv.ShortfallError
	switch {
	case errors.As(err, &shortfall):
		writeJSON(w, http.StatusConflict, shortfallResponse{
			Error:     err.Error(),
			Product:   shortfall.Product,
			Requested: shortfall.Requested,
			Available: shortfall.Available,
			Message:   shortfallMessage(shortfall),
		})
	case errors.Is(err, domcatalog.ErrNotFound),
		errors.Is(err, dominv.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domcatalog.ErrDuplicateProduct),
		errors.Is(err, dominv.ErrInsufficientStock):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domselection.ErrNoSelection):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, domcatalog.ErrInvalidPrice),
		errors.Is(err, domcatalog.ErrInvalidName),
		errors.Is(err, dominv.ErrInvalidQuantity),
		errors.Is(err, appinventory.ErrNoKeys),
		errors.Is(err, dompurchase.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func shortfallMessage(e *dominv.ShortfallError) string {
	return "Sorry, only " + strconv.Itoa(e.Available) + " units of " + e.Product + " are available."
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
