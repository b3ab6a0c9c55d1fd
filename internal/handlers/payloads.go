package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/carepoint-rx/api/internal/domain"
)

type orderResponse struct {
	Order            orderPayload `json:"order"`
	AlreadyConfirmed bool         `json:"already_confirmed,omitempty"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	OrderNumber     string                `json:"order_number"`
	PatientRef      string                `json:"patient_ref"`
	Type            string                `json:"type"`
	PrescriptionRef string                `json:"prescription_ref,omitempty"`
	Status          string                `json:"status"`
	Items           []orderItemPayload    `json:"items"`
	TotalAmount     *decimal.Decimal      `json:"total_amount"`
	DeliveryFee     *decimal.Decimal      `json:"delivery_fee"`
	FinalAmount     *decimal.Decimal      `json:"final_amount"`
	PaymentMethod   string                `json:"payment_method,omitempty"`
	PaymentStatus   string                `json:"payment_status,omitempty"`
	PaymentRef      string                `json:"payment_ref,omitempty"`
	DeliveryAddress string                `json:"delivery_address,omitempty"`
	AssignedTo      string                `json:"assigned_to,omitempty"`
	StockCommitted  bool                  `json:"stock_committed"`
	CancelReason    string                `json:"cancel_reason,omitempty"`
	History         []statusChangePayload `json:"status_history,omitempty"`
	Version         int64                 `json:"version"`
	CreatedAt       string                `json:"created_at"`
	UpdatedAt       string                `json:"updated_at"`
	BilledAt        string                `json:"billed_at,omitempty"`
	ConfirmedAt     string                `json:"confirmed_at,omitempty"`
	CancelledAt     string                `json:"cancelled_at,omitempty"`
	DeliveredAt     string                `json:"delivered_at,omitempty"`
}

type orderItemPayload struct {
	ID             string          `json:"id"`
	MedicineRef    string          `json:"medicine_ref"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	LineTotal      decimal.Decimal `json:"line_total"`
	IsPrescription bool            `json:"is_prescription"`
	IsAvailable    bool            `json:"is_available"`
	Dosage         string          `json:"dosage,omitempty"`
	Frequency      string          `json:"frequency,omitempty"`
	Instructions   string          `json:"instructions,omitempty"`
}

type statusChangePayload struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Actor string `json:"actor"`
	Role  string `json:"role"`
	At    string `json:"at"`
}

type prescriptionResponse struct {
	Prescription prescriptionPayload `json:"prescription"`
	Order        *orderPayload       `json:"order,omitempty"`
}

type prescriptionPayload struct {
	ID              string                    `json:"id"`
	PatientRef      string                    `json:"patient_ref"`
	ImageRef        string                    `json:"image_ref"`
	Status          string                    `json:"status"`
	OrderRef        string                    `json:"order_ref,omitempty"`
	Items           []prescriptionItemPayload `json:"items"`
	VerifiedBy      string                    `json:"verified_by,omitempty"`
	VerifiedAt      string                    `json:"verified_at,omitempty"`
	RejectedBy      string                    `json:"rejected_by,omitempty"`
	RejectedAt      string                    `json:"rejected_at,omitempty"`
	RejectionReason string                    `json:"rejection_reason,omitempty"`
	Version         int64                     `json:"version"`
	CreatedAt       string                    `json:"created_at"`
	UpdatedAt       string                    `json:"updated_at"`
}

type prescriptionItemPayload struct {
	MedicineRef  string `json:"medicine_ref"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	Dosage       string `json:"dosage,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type invoiceResponse struct {
	Invoice invoicePayload `json:"invoice"`
}

type invoicePayload struct {
	ID            string               `json:"id"`
	InvoiceNumber string               `json:"invoice_number"`
	OrderRef      string               `json:"order_ref"`
	OrderNumber   string               `json:"order_number"`
	PatientRef    string               `json:"patient_ref"`
	Lines         []invoiceLinePayload `json:"lines"`
	Subtotal      decimal.Decimal      `json:"subtotal"`
	DeliveryFee   decimal.Decimal      `json:"delivery_fee"`
	FinalAmount   decimal.Decimal      `json:"final_amount"`
	Currency      string               `json:"currency"`
	Display       invoiceDisplay       `json:"display"`
	GeneratedAt   string               `json:"generated_at"`
}

type invoiceLinePayload struct {
	MedicineRef    string          `json:"medicine_ref"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	LineTotal      decimal.Decimal `json:"line_total"`
	IsPrescription bool            `json:"is_prescription"`
}

type invoiceDisplay struct {
	Locale      string `json:"locale"`
	Subtotal    string `json:"subtotal"`
	DeliveryFee string `json:"delivery_fee"`
	FinalAmount string `json:"final_amount"`
}

type catalogItemResponse struct {
	Item catalogItemPayload `json:"item"`
}

type catalogItemListResponse struct {
	Items         []catalogItemPayload `json:"items"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

type catalogItemPayload struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Kind                 string          `json:"kind"`
	PricePerUnit         decimal.Decimal `json:"price_per_unit"`
	QtyPerPack           int             `json:"qty_per_pack"`
	Packs                int             `json:"packs"`
	Units                int             `json:"units"`
	MinStockUnits        int             `json:"min_stock_units"`
	LowStock             bool            `json:"low_stock"`
	IsActive             bool            `json:"is_active"`
	RequiresPrescription bool            `json:"requires_prescription"`
	Alert                *alertPayload   `json:"alert,omitempty"`
	UpdatedAt            string          `json:"updated_at"`
}

type alertPayload struct {
	AlertedBy string `json:"alerted_by"`
	Reason    string `json:"reason,omitempty"`
	AlertedAt string `json:"alerted_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		PatientRef:      order.PatientRef,
		Type:            string(order.Type),
		PrescriptionRef: order.PrescriptionRef,
		Status:          string(order.Status),
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		TotalAmount:     order.TotalAmount,
		DeliveryFee:     order.DeliveryFee,
		FinalAmount:     order.FinalAmount,
		PaymentMethod:   string(order.PaymentMethod),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentRef:      order.PaymentRef,
		DeliveryAddress: order.DeliveryAddress,
		AssignedTo:      order.AssignedTo,
		StockCommitted:  order.StockCommitted,
		CancelReason:    order.CancelReason,
		Version:         order.Version,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		BilledAt:        formatTimePtr(order.BilledAt),
		ConfirmedAt:     formatTimePtr(order.ConfirmedAt),
		CancelledAt:     formatTimePtr(order.CancelledAt),
		DeliveredAt:     formatTimePtr(order.DeliveredAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:             item.ID,
			MedicineRef:    item.MedicineRef,
			Name:           item.NameSnapshot,
			Quantity:       item.Quantity,
			Price:          item.PriceSnapshot,
			LineTotal:      item.LineTotal(),
			IsPrescription: item.IsPrescription,
			IsAvailable:    item.IsAvailable,
			Dosage:         item.Dosage,
			Frequency:      item.Frequency,
			Instructions:   item.Instructions,
		})
	}
	for _, change := range order.StatusHistory {
		payload.History = append(payload.History, statusChangePayload{
			From:  string(change.From),
			To:    string(change.To),
			Actor: change.ActorRef,
			Role:  string(change.Role),
			At:    formatTime(change.At),
		})
	}
	return payload
}

func buildPrescriptionPayload(rx domain.Prescription) prescriptionPayload {
	payload := prescriptionPayload{
		ID:              rx.ID,
		PatientRef:      rx.PatientRef,
		ImageRef:        rx.ImageRef,
		Status:          string(rx.Status),
		OrderRef:        rx.OrderRef,
		Items:           make([]prescriptionItemPayload, 0, len(rx.Items)),
		VerifiedBy:      rx.VerifiedByRef,
		VerifiedAt:      formatTimePtr(rx.VerifiedAt),
		RejectedBy:      rx.RejectedByRef,
		RejectedAt:      formatTimePtr(rx.RejectedAt),
		RejectionReason: rx.RejectionReason,
		Version:         rx.Version,
		CreatedAt:       formatTime(rx.CreatedAt),
		UpdatedAt:       formatTime(rx.UpdatedAt),
	}
	for _, item := range rx.Items {
		payload.Items = append(payload.Items, prescriptionItemPayload{
			MedicineRef:  item.MedicineRef,
			Name:         item.Name,
			Quantity:     item.Quantity,
			Dosage:       item.Dosage,
			Frequency:    item.Frequency,
			Instructions: item.Instructions,
		})
	}
	return payload
}

func buildInvoicePayload(invoice domain.Invoice) invoicePayload {
	payload := invoicePayload{
		ID:            invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		OrderRef:      invoice.OrderRef,
		OrderNumber:   invoice.OrderNumber,
		PatientRef:    invoice.PatientRef,
		Lines:         make([]invoiceLinePayload, 0, len(invoice.Lines)),
		Subtotal:      invoice.Subtotal,
		DeliveryFee:   invoice.DeliveryFee,
		FinalAmount:   invoice.FinalAmount,
		Currency:      invoice.Currency,
		Display: invoiceDisplay{
			Locale:      invoice.Display.Locale,
			Subtotal:    invoice.Display.Subtotal,
			DeliveryFee: invoice.Display.DeliveryFee,
			FinalAmount: invoice.Display.FinalAmount,
		},
		GeneratedAt: formatTime(invoice.GeneratedAt),
	}
	for _, line := range invoice.Lines {
		payload.Lines = append(payload.Lines, invoiceLinePayload{
			MedicineRef:    line.MedicineRef,
			Name:           line.Name,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			LineTotal:      line.LineTotal,
			IsPrescription: line.IsPrescription,
		})
	}
	return payload
}

func buildCatalogItemPayload(item domain.CatalogItem) catalogItemPayload {
	payload := catalogItemPayload{
		ID:                   item.ID,
		Name:                 item.Name,
		Kind:                 string(item.Kind),
		PricePerUnit:         item.PricePerUnit,
		QtyPerPack:           item.QtyPerPack,
		Packs:                item.Stock.Packs,
		Units:                item.Stock.Units,
		MinStockUnits:        item.MinStockUnits,
		LowStock:             item.LowStock(),
		IsActive:             item.IsActive,
		RequiresPrescription: item.RequiresPrescription,
		UpdatedAt:            formatTime(item.UpdatedAt),
	}
	if item.Alert.Alerted {
		payload.Alert = &alertPayload{
			AlertedBy: item.Alert.AlertedBy,
			Reason:    item.Alert.Reason,
			AlertedAt: formatTimePtr(item.Alert.AlertedAt),
		}
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
