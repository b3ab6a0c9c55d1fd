package handlers

import (
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carepoint-rx/api/internal/platform/auth"
	"github.com/carepoint-rx/api/internal/platform/httpx"
	"github.com/carepoint-rx/api/internal/services"
)

type uploadPrescriptionRequest struct {
	ImageRef string `json:"image_ref"`
}

type addVerifiedItemRequest struct {
	MedicineRef  string `json:"medicine_ref"`
	Quantity     int    `json:"quantity"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Instructions string `json:"instructions"`
}

type rejectPrescriptionRequest struct {
	Reason string `json:"reason"`
}

// PrescriptionHandlers exposes prescription upload and pharmacist review endpoints.
type PrescriptionHandlers struct {
	authn         *auth.Authenticator
	prescriptions services.PrescriptionService
	limiter       uploadLimiter
}

// PrescriptionOption customises PrescriptionHandlers.
type PrescriptionOption func(*PrescriptionHandlers)

// WithUploadRateLimit limits uploads per patient to limit within window.
func WithUploadRateLimit(limit int, window time.Duration, clock func() time.Time) PrescriptionOption {
	return func(h *PrescriptionHandlers) {
		h.limiter = newWindowLimiter(limit, window, clock)
	}
}

// NewPrescriptionHandlers constructs a new PrescriptionHandlers instance.
func NewPrescriptionHandlers(authn *auth.Authenticator, prescriptions services.PrescriptionService, opts ...PrescriptionOption) *PrescriptionHandlers {
	h := &PrescriptionHandlers{
		authn:         authn,
		prescriptions: prescriptions,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /prescriptions endpoints.
func (h *PrescriptionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/", h.upload)
	r.Get("/{prescriptionID}", h.getPrescription)
	r.Post("/{prescriptionID}/items", h.addItem)
	r.Put("/{prescriptionID}/verify", h.verify)
	r.Put("/{prescriptionID}/reject", h.reject)
}

func (h *PrescriptionHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.prescriptions == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("prescription_service_unavailable", "prescription service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *PrescriptionHandlers) upload(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	if h.limiter != nil {
		if allowed, wait := h.limiter.Allow(actor.ID); !allowed {
			seconds := int(math.Ceil(wait.Seconds()))
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many prescription uploads", http.StatusTooManyRequests).WithRetryAfter(seconds))
			return
		}
	}
	var req uploadPrescriptionRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	rx, err := h.prescriptions.Upload(r.Context(), services.UploadPrescriptionCommand{
		Actor:    actor,
		ImageRef: strings.TrimSpace(req.ImageRef),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, prescriptionResponse{Prescription: buildPrescriptionPayload(rx)})
}

func (h *PrescriptionHandlers) getPrescription(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.prescriptionCommand(w, r)
	if !ok {
		return
	}
	rx, err := h.prescriptions.GetPrescription(r.Context(), cmd.Actor, cmd.PrescriptionID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, prescriptionResponse{Prescription: buildPrescriptionPayload(rx)})
}

func (h *PrescriptionHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.prescriptionCommand(w, r)
	if !ok {
		return
	}
	var req addVerifiedItemRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	rx, order, err := h.prescriptions.AddVerifiedItem(r.Context(), services.AddVerifiedItemCommand{
		PrescriptionCommand: cmd,
		MedicineRef:         strings.TrimSpace(req.MedicineRef),
		Quantity:            req.Quantity,
		Dosage:              req.Dosage,
		Frequency:           req.Frequency,
		Instructions:        req.Instructions,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	payload := buildOrderPayload(order)
	writeJSONResponse(w, http.StatusOK, prescriptionResponse{Prescription: buildPrescriptionPayload(rx), Order: &payload})
}

func (h *PrescriptionHandlers) verify(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.prescriptionCommand(w, r)
	if !ok {
		return
	}
	rx, order, err := h.prescriptions.Verify(r.Context(), cmd)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	payload := buildOrderPayload(order)
	writeJSONResponse(w, http.StatusOK, prescriptionResponse{Prescription: buildPrescriptionPayload(rx), Order: &payload})
}

func (h *PrescriptionHandlers) reject(w http.ResponseWriter, r *http.Request) {
	cmd, ok := h.prescriptionCommand(w, r)
	if !ok {
		return
	}
	var req rejectPrescriptionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	rx, err := h.prescriptions.Reject(r.Context(), services.RejectPrescriptionCommand{
		PrescriptionCommand: cmd,
		Reason:              req.Reason,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, prescriptionResponse{Prescription: buildPrescriptionPayload(rx)})
}

func (h *PrescriptionHandlers) prescriptionCommand(w http.ResponseWriter, r *http.Request) (services.PrescriptionCommand, bool) {
	if !h.ready(w, r) {
		return services.PrescriptionCommand{}, false
	}
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return services.PrescriptionCommand{}, false
	}
	id, ok := urlParam(w, r, "prescriptionID")
	if !ok {
		return services.PrescriptionCommand{}, false
	}
	return services.PrescriptionCommand{Actor: actor, PrescriptionID: id}, true
}
