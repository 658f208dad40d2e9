package http

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Spok95/binledger/internal/domain/lots"
	"github.com/Spok95/binledger/internal/domain/materials"
	"github.com/Spok95/binledger/internal/errs"
	"github.com/Spok95/binledger/internal/ledger"
	"github.com/Spok95/binledger/internal/reconcile"
)

const (
	defaultHistoryLimit = 50
	maxUpload           = 16 << 20
)

type APIDeps struct {
	Ledger  *ledger.Service
	Imports *reconcile.Reconciler
	Log     *slog.Logger
	// JWTSecret: если задан, каждый запрос к API требует Bearer-токен.
	JWTSecret string
	// ImportRate: лимит загрузок в формате "30-M", пустая строка снимает лимит.
	ImportRate string
}

type API struct {
	ledger  *ledger.Service
	imports *reconcile.Reconciler
	log     *slog.Logger
	handler http.Handler
}

func NewAPI(d APIDeps) (*API, error) {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	limit, err := newRateLimit(d.ImportRate)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, err, "http.import_rate")
	}
	a := &API{ledger: d.Ledger, imports: d.Imports, log: d.Log}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/receipts", a.receive)
	mux.HandleFunc("POST /api/v1/issues", a.issue)
	mux.HandleFunc("POST /api/v1/transfers", a.transfer)
	mux.HandleFunc("POST /api/v1/bins/{code}/status", a.binStatus)
	mux.HandleFunc("POST /api/v1/bins/{code}/count", a.binCount)
	mux.HandleFunc("GET /api/v1/putaway", a.putaway)
	mux.HandleFunc("GET /api/v1/picking", a.picking)
	mux.HandleFunc("POST /api/v1/materials/recalculate", a.recalculate)
	mux.HandleFunc("DELETE /api/v1/materials", a.removeMaterial)
	mux.HandleFunc("GET /api/v1/movements", a.movements)
	mux.Handle("POST /api/v1/import/{entity}", limit(http.HandlerFunc(a.importJSON)))
	mux.Handle("POST /api/v1/import/{entity}/xlsx", limit(http.HandlerFunc(a.importXLSX)))
	mux.HandleFunc("GET /api/v1/import/{entity}/template", a.template)

	a.handler = withRequestLog(d.Log, withActor([]byte(d.JWTSecret), mux))
	return a, nil
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.handler.ServeHTTP(w, r) }

func keyFromQuery(r *http.Request) materials.Key {
	q := r.URL.Query()
	return materials.Key{Code: q.Get("material_code"), Vendor: q.Get("vendor_code")}.Trim()
}

type receiptBody struct {
	ledger.ReceiveRequest
	ExpiryDate string `json:"expiry_date,omitempty"`
}

func (a *API) receive(w http.ResponseWriter, r *http.Request) {
	var body receiptBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, a.log, r, err)
		return
	}
	expiry, err := lots.ParseExpiry(body.ExpiryDate)
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	req := body.ReceiveRequest
	req.ExpiryDate = expiry
	req.Actor = ActorFrom(r.Context())

	res, err := a.ledger.Receive(r.Context(), req)
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) issue(w http.ResponseWriter, r *http.Request) {
	var req ledger.IssueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, a.log, r, err)
		return
	}
	req.Actor = ActorFrom(r.Context())
	res, err := a.ledger.Issue(r.Context(), req)
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) transfer(w http.ResponseWriter, r *http.Request) {
	var req ledger.TransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, a.log, r, err)
		return
	}
	req.Actor = ActorFrom(r.Context())
	res, err := a.ledger.Transfer(r.Context(), req)
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) binStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, a.log, r, err)
		return
	}
	b, err := a.ledger.SetBinStatus(r.Context(), r.PathValue("code"), body.Status, ActorFrom(r.Context()))
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) binCount(w http.ResponseWriter, r *http.Request) {
	var req ledger.CountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, a.log, r, err)
		return
	}
	req.BinCode = r.PathValue("code")
	req.Actor = ActorFrom(r.Context())
	res, err := a.ledger.CountBin(r.Context(), req)
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) putaway(w http.ResponseWriter, r *http.Request) {
	b, err := a.ledger.SuggestPutaway(r.Context(), keyFromQuery(r))
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bin": b})
}

func (a *API) picking(w http.ResponseWriter, r *http.Request) {
	qty, err := strconv.ParseInt(r.URL.Query().Get("qty"), 10, 64)
	if err != nil || qty <= 0 {
		writeError(w, a.log, r, errs.New(errs.Validation, "qty must be a positive integer"))
		return
	}
	plan, err := a.ledger.PlanPick(r.Context(), keyFromQuery(r), qty)
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan": plan, "total": plan.Total()})
}

func (a *API) recalculate(w http.ResponseWriter, r *http.Request) {
	var key materials.Key
	if err := decodeJSON(w, r, &key); err != nil {
		writeError(w, a.log, r, err)
		return
	}
	m, err := a.ledger.RecalculateTotal(r.Context(), key, ActorFrom(r.Context()))
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) removeMaterial(w http.ResponseWriter, r *http.Request) {
	if err := a.ledger.RemoveMaterial(r.Context(), keyFromQuery(r), ActorFrom(r.Context())); err != nil {
		writeError(w, a.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) movements(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, a.log, r, errs.New(errs.Validation, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	list, err := a.ledger.History(r.Context(), keyFromQuery(r), limit)
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": list})
}

func (a *API) importJSON(w http.ResponseWriter, r *http.Request) {
	var req reconcile.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, a.log, r, err)
		return
	}
	req.Actor = ActorFrom(r.Context())
	out, err := a.imports.Run(r.Context(), r.PathValue("entity"), req)
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// importXLSX берёт книгу из поля file и режим из ?mode=. Решения по строкам здесь не принимаются.
func (a *API) importXLSX(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, a.log, r, errs.Wrap(errs.Validation, err, "multipart field \"file\" is required"))
		return
	}
	defer func() { _ = file.Close() }()

	records, err := reconcile.ReadWorkbook(file)
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	out, err := a.imports.Run(r.Context(), r.PathValue("entity"), reconcile.Request{
		Records: records,
		Mode:    r.URL.Query().Get("mode"),
		Actor:   ActorFrom(r.Context()),
	})
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) template(w http.ResponseWriter, r *http.Request) {
	schema, err := reconcile.SchemaFor(r.PathValue("entity"))
	if err != nil {
		writeError(w, a.log, r, err)
		return
	}
	buf := &bytes.Buffer{}
	if err := reconcile.WriteTemplate(schema, buf); err != nil {
		writeError(w, a.log, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ToLower(schema.Entity)+`_template.xlsx"`)
	_, _ = w.Write(buf.Bytes())
}
