package firestore

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/carepoint-rx/api/internal/domain"
)

// Money is stored as decimal strings so amounts never pass through float64.

type stockAlertDocument struct {
	Alerted   bool       `firestore:"alerted"`
	AlertedBy string     `firestore:"alertedBy,omitempty"`
	Reason    string     `firestore:"reason,omitempty"`
	AlertedAt *time.Time `firestore:"alertedAt,omitempty"`
}

type catalogItemDocument struct {
	Name                 string             `firestore:"name"`
	Kind                 string             `firestore:"kind"`
	PricePerUnit         string             `firestore:"pricePerUnit"`
	QtyPerPack           int                `firestore:"qtyPerPack"`
	Units                int                `firestore:"units"`
	Packs                int                `firestore:"packs"`
	MinStockUnits        int                `firestore:"minStockUnits"`
	LowStock             bool               `firestore:"lowStock"`
	IsActive             bool               `firestore:"isActive"`
	RequiresPrescription bool               `firestore:"requiresPrescription"`
	Alert                stockAlertDocument `firestore:"alert"`
	UpdatedAt            time.Time          `firestore:"updatedAt"`
}

func newCatalogItemDocument(item domain.CatalogItem) catalogItemDocument {
	stock := item.WithUnits(item.Stock.Units)
	return catalogItemDocument{
		Name:                 item.Name,
		Kind:                 string(item.Kind),
		PricePerUnit:         item.PricePerUnit.String(),
		QtyPerPack:           item.QtyPerPack,
		Units:                stock.Units,
		Packs:                stock.Packs,
		MinStockUnits:        item.MinStockUnits,
		LowStock:             item.IsActive && stock.Units <= item.MinStockUnits,
		IsActive:             item.IsActive,
		RequiresPrescription: item.RequiresPrescription,
		Alert: stockAlertDocument{
			Alerted:   item.Alert.Alerted,
			AlertedBy: item.Alert.AlertedBy,
			Reason:    item.Alert.Reason,
			AlertedAt: item.Alert.AlertedAt,
		},
		UpdatedAt: item.UpdatedAt,
	}
}

func (d catalogItemDocument) toDomain(id string) domain.CatalogItem {
	return domain.CatalogItem{
		ID:                   id,
		Name:                 d.Name,
		Kind:                 domain.CatalogKind(d.Kind),
		PricePerUnit:         parseDecimal(d.PricePerUnit),
		QtyPerPack:           d.QtyPerPack,
		Stock:                domain.StockLevel{Units: d.Units, Packs: d.Packs},
		MinStockUnits:        d.MinStockUnits,
		IsActive:             d.IsActive,
		RequiresPrescription: d.RequiresPrescription,
		Alert: domain.StockAlert{
			Alerted:   d.Alert.Alerted,
			AlertedBy: d.Alert.AlertedBy,
			Reason:    d.Alert.Reason,
			AlertedAt: d.Alert.AlertedAt,
		},
		UpdatedAt: d.UpdatedAt,
	}
}

type orderItemDocument struct {
	ID             string `firestore:"id"`
	MedicineRef    string `firestore:"medicineRef"`
	NameSnapshot   string `firestore:"nameSnapshot"`
	Quantity       int    `firestore:"quantity"`
	PriceSnapshot  string `firestore:"priceSnapshot"`
	IsPrescription bool   `firestore:"isPrescription"`
	IsAvailable    bool   `firestore:"isAvailable"`
	Dosage         string `firestore:"dosage,omitempty"`
	Frequency      string `firestore:"frequency,omitempty"`
	Instructions   string `firestore:"instructions,omitempty"`
}

type statusChangeDocument struct {
	From     string    `firestore:"from"`
	To       string    `firestore:"to"`
	ActorRef string    `firestore:"actorRef"`
	Role     string    `firestore:"role"`
	At       time.Time `firestore:"at"`
}

type orderDocument struct {
	OrderNumber     string                 `firestore:"orderNumber"`
	PatientRef      string                 `firestore:"patientRef"`
	Type            string                 `firestore:"type"`
	PrescriptionRef string                 `firestore:"prescriptionRef,omitempty"`
	Items           []orderItemDocument    `firestore:"items"`
	ItemRefs        []string               `firestore:"itemRefs"`
	Status          string                 `firestore:"status"`
	TotalAmount     *string                `firestore:"totalAmount"`
	DeliveryFee     *string                `firestore:"deliveryFee"`
	FinalAmount     *string                `firestore:"finalAmount"`
	PaymentMethod   string                 `firestore:"paymentMethod,omitempty"`
	PaymentStatus   string                 `firestore:"paymentStatus,omitempty"`
	PaymentRef      string                 `firestore:"paymentRef,omitempty"`
	DeliveryAddress string                 `firestore:"deliveryAddress,omitempty"`
	AssignedTo      string                 `firestore:"assignedTo,omitempty"`
	StockCommitted  bool                   `firestore:"stockCommitted"`
	CancelReason    string                 `firestore:"cancelReason,omitempty"`
	StatusHistory   []statusChangeDocument `firestore:"statusHistory"`
	Version         int64                  `firestore:"version"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
	BilledAt        *time.Time             `firestore:"billedAt,omitempty"`
	ConfirmedAt     *time.Time             `firestore:"confirmedAt,omitempty"`
	CancelledAt     *time.Time             `firestore:"cancelledAt,omitempty"`
	DeliveredAt     *time.Time             `firestore:"deliveredAt,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:     order.OrderNumber,
		PatientRef:      order.PatientRef,
		Type:            string(order.Type),
		PrescriptionRef: order.PrescriptionRef,
		Items:           make([]orderItemDocument, 0, len(order.Items)),
		ItemRefs:        make([]string, 0, len(order.Items)),
		Status:          string(order.Status),
		TotalAmount:     formatDecimal(order.TotalAmount),
		DeliveryFee:     formatDecimal(order.DeliveryFee),
		FinalAmount:     formatDecimal(order.FinalAmount),
		PaymentMethod:   string(order.PaymentMethod),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentRef:      order.PaymentRef,
		DeliveryAddress: order.DeliveryAddress,
		AssignedTo:      order.AssignedTo,
		StockCommitted:  order.StockCommitted,
		CancelReason:    order.CancelReason,
		StatusHistory:   make([]statusChangeDocument, 0, len(order.StatusHistory)),
		Version:         order.Version,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
		BilledAt:        order.BilledAt,
		ConfirmedAt:     order.ConfirmedAt,
		CancelledAt:     order.CancelledAt,
		DeliveredAt:     order.DeliveredAt,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ID:             item.ID,
			MedicineRef:    item.MedicineRef,
			NameSnapshot:   item.NameSnapshot,
			Quantity:       item.Quantity,
			PriceSnapshot:  item.PriceSnapshot.String(),
			IsPrescription: item.IsPrescription,
			IsAvailable:    item.IsAvailable,
			Dosage:         item.Dosage,
			Frequency:      item.Frequency,
			Instructions:   item.Instructions,
		})
		doc.ItemRefs = append(doc.ItemRefs, item.MedicineRef)
	}
	for _, change := range order.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, statusChangeDocument{
			From:     string(change.From),
			To:       string(change.To),
			ActorRef: change.ActorRef,
			Role:     string(change.Role),
			At:       change.At,
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		PatientRef:      d.PatientRef,
		Type:            domain.OrderType(d.Type),
		PrescriptionRef: d.PrescriptionRef,
		Status:          domain.OrderStatus(d.Status),
		TotalAmount:     parseDecimalPtr(d.TotalAmount),
		DeliveryFee:     parseDecimalPtr(d.DeliveryFee),
		FinalAmount:     parseDecimalPtr(d.FinalAmount),
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:   domain.PaymentStatus(d.PaymentStatus),
		PaymentRef:      d.PaymentRef,
		DeliveryAddress: d.DeliveryAddress,
		AssignedTo:      d.AssignedTo,
		StockCommitted:  d.StockCommitted,
		CancelReason:    d.CancelReason,
		Version:         d.Version,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		BilledAt:        d.BilledAt,
		ConfirmedAt:     d.ConfirmedAt,
		CancelledAt:     d.CancelledAt,
		DeliveredAt:     d.DeliveredAt,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:             item.ID,
			MedicineRef:    item.MedicineRef,
			NameSnapshot:   item.NameSnapshot,
			Quantity:       item.Quantity,
			PriceSnapshot:  parseDecimal(item.PriceSnapshot),
			IsPrescription: item.IsPrescription,
			IsAvailable:    item.IsAvailable,
			Dosage:         item.Dosage,
			Frequency:      item.Frequency,
			Instructions:   item.Instructions,
		})
	}
	for _, change := range d.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.OrderStatusChange{
			From:     domain.OrderStatus(change.From),
			To:       domain.OrderStatus(change.To),
			ActorRef: change.ActorRef,
			Role:     domain.Role(change.Role),
			At:       change.At,
		})
	}
	return order
}

type prescriptionItemDocument struct {
	MedicineRef  string `firestore:"medicineRef"`
	Name         string `firestore:"name"`
	Quantity     int    `firestore:"quantity"`
	Dosage       string `firestore:"dosage,omitempty"`
	Frequency    string `firestore:"frequency,omitempty"`
	Instructions string `firestore:"instructions,omitempty"`
}

type prescriptionDocument struct {
	PatientRef      string                     `firestore:"patientRef"`
	ImageRef        string                     `firestore:"imageRef,omitempty"`
	Status          string                     `firestore:"status"`
	OrderRef        string                     `firestore:"orderRef,omitempty"`
	Items           []prescriptionItemDocument `firestore:"items"`
	VerifiedByRef   string                     `firestore:"verifiedByRef,omitempty"`
	VerifiedAt      *time.Time                 `firestore:"verifiedAt,omitempty"`
	RejectedByRef   string                     `firestore:"rejectedByRef,omitempty"`
	RejectedAt      *time.Time                 `firestore:"rejectedAt,omitempty"`
	RejectionReason string                     `firestore:"rejectionReason,omitempty"`
	Version         int64                      `firestore:"version"`
	CreatedAt       time.Time                  `firestore:"createdAt"`
	UpdatedAt       time.Time                  `firestore:"updatedAt"`
}

func newPrescriptionDocument(p domain.Prescription) prescriptionDocument {
	doc := prescriptionDocument{
		PatientRef:      p.PatientRef,
		ImageRef:        p.ImageRef,
		Status:          string(p.Status),
		OrderRef:        p.OrderRef,
		Items:           make([]prescriptionItemDocument, 0, len(p.Items)),
		VerifiedByRef:   p.VerifiedByRef,
		VerifiedAt:      p.VerifiedAt,
		RejectedByRef:   p.RejectedByRef,
		RejectedAt:      p.RejectedAt,
		RejectionReason: p.RejectionReason,
		Version:         p.Version,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	for _, item := range p.Items {
		doc.Items = append(doc.Items, prescriptionItemDocument(item))
	}
	return doc
}

func (d prescriptionDocument) toDomain(id string) domain.Prescription {
	p := domain.Prescription{
		ID:              id,
		PatientRef:      d.PatientRef,
		ImageRef:        d.ImageRef,
		Status:          domain.PrescriptionStatus(d.Status),
		OrderRef:        d.OrderRef,
		VerifiedByRef:   d.VerifiedByRef,
		VerifiedAt:      d.VerifiedAt,
		RejectedByRef:   d.RejectedByRef,
		RejectedAt:      d.RejectedAt,
		RejectionReason: d.RejectionReason,
		Version:         d.Version,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	for _, item := range d.Items {
		p.Items = append(p.Items, domain.PrescriptionItem(item))
	}
	return p
}

type invoiceLineDocument struct {
	MedicineRef    string `firestore:"medicineRef"`
	Name           string `firestore:"name"`
	Quantity       int    `firestore:"quantity"`
	UnitPrice      string `firestore:"unitPrice"`
	LineTotal      string `firestore:"lineTotal"`
	IsPrescription bool   `firestore:"isPrescription"`
}

type invoiceDocument struct {
	InvoiceNumber string                `firestore:"invoiceNumber"`
	OrderNumber   string                `firestore:"orderNumber"`
	PatientRef    string                `firestore:"patientRef"`
	Lines         []invoiceLineDocument `firestore:"lines"`
	Subtotal      string                `firestore:"subtotal"`
	DeliveryFee   string                `firestore:"deliveryFee"`
	FinalAmount   string                `firestore:"finalAmount"`
	Currency      string                `firestore:"currency"`
	Display       map[string]string     `firestore:"display,omitempty"`
	GeneratedAt   time.Time             `firestore:"generatedAt"`
}

func newInvoiceDocument(inv domain.Invoice) invoiceDocument {
	doc := invoiceDocument{
		InvoiceNumber: inv.InvoiceNumber,
		OrderNumber:   inv.OrderNumber,
		PatientRef:    inv.PatientRef,
		Lines:         make([]invoiceLineDocument, 0, len(inv.Lines)),
		Subtotal:      inv.Subtotal.String(),
		DeliveryFee:   inv.DeliveryFee.String(),
		FinalAmount:   inv.FinalAmount.String(),
		Currency:      inv.Currency,
		Display: map[string]string{
			"locale":      inv.Display.Locale,
			"subtotal":    inv.Display.Subtotal,
			"deliveryFee": inv.Display.DeliveryFee,
			"finalAmount": inv.Display.FinalAmount,
		},
		GeneratedAt: inv.GeneratedAt,
	}
	for _, line := range inv.Lines {
		doc.Lines = append(doc.Lines, invoiceLineDocument{
			MedicineRef:    line.MedicineRef,
			Name:           line.Name,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice.String(),
			LineTotal:      line.LineTotal.String(),
			IsPrescription: line.IsPrescription,
		})
	}
	return doc
}

func (d invoiceDocument) toDomain(orderID string) domain.Invoice {
	inv := domain.Invoice{
		ID:            orderID,
		InvoiceNumber: d.InvoiceNumber,
		OrderRef:      orderID,
		OrderNumber:   d.OrderNumber,
		PatientRef:    d.PatientRef,
		Subtotal:      parseDecimal(d.Subtotal),
		DeliveryFee:   parseDecimal(d.DeliveryFee),
		FinalAmount:   parseDecimal(d.FinalAmount),
		Currency:      d.Currency,
		Display: domain.InvoiceDisplay{
			Locale:      d.Display["locale"],
			Subtotal:    d.Display["subtotal"],
			DeliveryFee: d.Display["deliveryFee"],
			FinalAmount: d.Display["finalAmount"],
		},
		GeneratedAt: d.GeneratedAt,
	}
	for _, line := range d.Lines {
		inv.Lines = append(inv.Lines, domain.InvoiceLine{
			MedicineRef:    line.MedicineRef,
			Name:           line.Name,
			Quantity:       line.Quantity,
			UnitPrice:      parseDecimal(line.UnitPrice),
			LineTotal:      parseDecimal(line.LineTotal),
			IsPrescription: line.IsPrescription,
		})
	}
	return inv
}

func parseDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseDecimalPtr(value *string) *decimal.Decimal {
	if value == nil {
		return nil
	}
	d := parseDecimal(*value)
	return &d
}

func formatDecimal(value *decimal.Decimal) *string {
	if value == nil {
		return nil
	}
	s := value.String()
	return &s
}
