package services

import (
	"context"
	"testing"

	domain "github.com/carepoint-rx/api/internal/domain"
)

func uploadPrescription(t *testing.T, engine *testEngine) Prescription {
	t.Helper()
	rx, err := engine.prescriptions.Upload(context.Background(), UploadPrescriptionCommand{Actor: patient, ImageRef: "gs://rx/scan.png"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rx.Status != domain.PrescriptionStatusPending {
		t.Fatalf("expected pending prescription, got %s", rx.Status)
	}
	return rx
}

func TestVerifyForcesPendingEvenWithoutItems(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	rx := uploadPrescription(t, engine)

	verified, order, err := engine.prescriptions.Verify(ctx, PrescriptionCommand{Actor: pharmacist, PrescriptionID: rx.ID})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != domain.PrescriptionStatusVerified || verified.VerifiedByRef != pharmacist.ID || verified.VerifiedAt == nil {
		t.Fatalf("unexpected verification stamp %+v", verified)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}
	if len(order.Items) != 0 || order.Type != domain.OrderTypePrescription || order.PatientRef != patient.ID {
		t.Fatalf("unexpected linked order %+v", order)
	}
	if verified.OrderRef != order.ID || order.PrescriptionRef != rx.ID {
		t.Fatalf("prescription and order must link to each other")
	}
	if _, err := engine.invoices.FindByOrder(ctx, order.ID); err != nil {
		t.Fatalf("expected invoice for verified order: %v", err)
	}
	if len(engine.notifier.kinds(NotificationPrescriptionVerified)) != 1 {
		t.Fatalf("expected verification notification")
	}

	_, _, err = engine.prescriptions.Verify(ctx, PrescriptionCommand{Actor: pharmacist, PrescriptionID: rx.ID})
	assertErrorIs(t, err, ErrInvalidState)
}

func TestVerifyMovesDraftWithItemsToPendingAndBills(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	engine.seedItem(t, "metformin", 100, "400.00", requiresPrescription)
	rx := uploadPrescription(t, engine)

	_, order, err := engine.prescriptions.AddVerifiedItem(ctx, AddVerifiedItemCommand{
		PrescriptionCommand: PrescriptionCommand{Actor: pharmacist, PrescriptionID: rx.ID},
		MedicineRef:         "metformin",
		Quantity:            2,
		Dosage:              "500mg",
		Frequency:           "twice daily",
	})
	if err != nil {
		t.Fatalf("add verified item: %v", err)
	}
	if order.Status != domain.OrderStatusDraft || order.Billed() {
		t.Fatalf("expected unbilled draft, got %s billed=%v", order.Status, order.Billed())
	}

	_, order, err = engine.prescriptions.Verify(ctx, PrescriptionCommand{Actor: pharmacist, PrescriptionID: rx.ID})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if order.Status != domain.OrderStatusPending || !order.FinalAmount.Equal(mustDecimal(t, "1000")) {
		t.Fatalf("unexpected verified order status=%s final=%v", order.Status, order.FinalAmount)
	}
	if !order.DeliveryFee.Equal(mustDecimal(t, "200")) {
		t.Fatalf("expected delivery fee 200 below the threshold, got %s", order.DeliveryFee)
	}
}

func TestAddVerifiedItemMergesOnBothSides(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	engine.seedItem(t, "statin", 10, "15.00", requiresPrescription)
	rx := uploadPrescription(t, engine)
	cmd := AddVerifiedItemCommand{
		PrescriptionCommand: PrescriptionCommand{Actor: pharmacist, PrescriptionID: rx.ID},
		MedicineRef:         "statin",
		Quantity:            3,
	}

	if _, _, err := engine.prescriptions.AddVerifiedItem(ctx, cmd); err != nil {
		t.Fatalf("first add: %v", err)
	}
	updatedRx, order, err := engine.prescriptions.AddVerifiedItem(ctx, cmd)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if len(updatedRx.Items) != 1 || updatedRx.Items[0].Quantity != 6 {
		t.Fatalf("unexpected prescription items %+v", updatedRx.Items)
	}
	if len(order.Items) != 1 || order.Items[0].Quantity != 6 || !order.Items[0].IsPrescription {
		t.Fatalf("unexpected order items %+v", order.Items)
	}

	cmd.Quantity = 11
	_, _, err = engine.prescriptions.AddVerifiedItem(ctx, cmd)
	assertErrorIs(t, err, ErrInsufficientStock)

	cmd.Actor = patient
	cmd.Quantity = 1
	_, _, err = engine.prescriptions.AddVerifiedItem(ctx, cmd)
	assertErrorIs(t, err, ErrForbidden)
}

func TestAddVerifiedItemRecomputesBilledOrder(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	engine.seedItem(t, "thyroxine", 50, "100.00", requiresPrescription)
	rx := uploadPrescription(t, engine)
	add := AddVerifiedItemCommand{
		PrescriptionCommand: PrescriptionCommand{Actor: pharmacist, PrescriptionID: rx.ID},
		MedicineRef:         "thyroxine",
		Quantity:            1,
	}
	if _, _, err := engine.prescriptions.AddVerifiedItem(ctx, add); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, order, err := engine.prescriptions.Verify(ctx, PrescriptionCommand{Actor: pharmacist, PrescriptionID: rx.ID})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	first, err := engine.invoices.FindByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("invoice: %v", err)
	}

	add.Quantity = 10
	_, order, err = engine.prescriptions.AddVerifiedItem(ctx, add)
	if err != nil {
		t.Fatalf("add after verify: %v", err)
	}
	if !order.FinalAmount.Equal(mustDecimal(t, "1100")) {
		t.Fatalf("expected recomputed total 1100, got %s", order.FinalAmount)
	}
	second, err := engine.invoices.FindByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("invoice: %v", err)
	}
	if second.InvoiceNumber != first.InvoiceNumber || !second.FinalAmount.Equal(mustDecimal(t, "1100")) {
		t.Fatalf("invoice must be overwritten in place: %s/%s %s", first.InvoiceNumber, second.InvoiceNumber, second.FinalAmount)
	}
}

func TestRejectLeavesLinkedOrderUntouched(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	engine.seedItem(t, "codeine", 10, "25.00", requiresPrescription)
	rx := uploadPrescription(t, engine)

	_, order, err := engine.prescriptions.AddVerifiedItem(ctx, AddVerifiedItemCommand{
		PrescriptionCommand: PrescriptionCommand{Actor: pharmacist, PrescriptionID: rx.ID},
		MedicineRef:         "codeine",
		Quantity:            1,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	_, err = engine.prescriptions.Reject(ctx, RejectPrescriptionCommand{PrescriptionCommand: PrescriptionCommand{Actor: pharmacist, PrescriptionID: rx.ID}})
	assertErrorIs(t, err, ErrValidation)

	rejected, err := engine.prescriptions.Reject(ctx, RejectPrescriptionCommand{
		PrescriptionCommand: PrescriptionCommand{Actor: pharmacist, PrescriptionID: rx.ID},
		Reason:              "<script>x</script>Illegible signature",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.PrescriptionStatusRejected || rejected.RejectionReason != "Illegible signature" || rejected.RejectedAt == nil {
		t.Fatalf("unexpected rejection %+v", rejected)
	}

	stored, err := engine.orders.GetOrder(ctx, pharmacist, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Version != order.Version || stored.Status != order.Status || len(stored.Items) != 1 {
		t.Fatalf("reject must not touch the order: before %+v after %+v", order, stored)
	}
	if len(engine.notifier.kinds(NotificationPrescriptionRejected)) != 1 {
		t.Fatalf("expected rejection notification")
	}

	_, _, err = engine.prescriptions.AddVerifiedItem(ctx, AddVerifiedItemCommand{
		PrescriptionCommand: PrescriptionCommand{Actor: pharmacist, PrescriptionID: rx.ID},
		MedicineRef:         "codeine",
		Quantity:            1,
	})
	assertErrorIs(t, err, ErrInvalidState)
}

func TestPrescriptionLinesAreLockedForPatients(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	engine.seedItem(t, "warfarin", 20, "12.00", requiresPrescription)
	engine.seedItem(t, "lozenge", 20, "3.00")
	rx := uploadPrescription(t, engine)

	_, order, err := engine.prescriptions.AddVerifiedItem(ctx, AddVerifiedItemCommand{
		PrescriptionCommand: PrescriptionCommand{Actor: pharmacist, PrescriptionID: rx.ID},
		MedicineRef:         "warfarin",
		Quantity:            2,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	order, err = engine.orders.AddItem(ctx, AddItemCommand{OrderCommand: OrderCommand{Actor: patient, OrderID: order.ID}, ItemID: "lozenge", Quantity: 1})
	if err != nil {
		t.Fatalf("patient add otc: %v", err)
	}
	if order.Type != domain.OrderTypeMixed {
		t.Fatalf("expected mixed order, got %s", order.Type)
	}
	rxLine := order.Items[order.FindByMedicine("warfarin")]

	_, err = engine.orders.RemoveItem(ctx, RemoveItemCommand{OrderCommand: OrderCommand{Actor: patient, OrderID: order.ID}, LineID: rxLine.ID})
	assertErrorIs(t, err, ErrPrescriptionItemLocked)

	updated, err := engine.orders.RemoveItem(ctx, RemoveItemCommand{OrderCommand: OrderCommand{Actor: pharmacist, OrderID: order.ID}, LineID: rxLine.ID})
	if err != nil {
		t.Fatalf("pharmacist removal: %v", err)
	}
	if updated.FindByMedicine("warfarin") >= 0 || len(updated.Items) != 1 {
		t.Fatalf("line not removed from order: %+v", updated.Items)
	}
	stored, err := engine.prescriptions.GetPrescription(ctx, patient, rx.ID)
	if err != nil {
		t.Fatalf("get prescription: %v", err)
	}
	if stored.FindItem("warfarin") >= 0 {
		t.Fatalf("item not removed from prescription: %+v", stored.Items)
	}

	_, err = engine.prescriptions.RemovePrescriptionItem(ctx, RemoveItemCommand{OrderCommand: OrderCommand{Actor: patient, OrderID: order.ID}, LineID: updated.Items[0].ID})
	assertErrorIs(t, err, ErrForbidden)
}

func TestGetPrescriptionScopesPatients(t *testing.T) {
	engine := newTestEngine(t)
	rx := uploadPrescription(t, engine)

	_, err := engine.prescriptions.GetPrescription(context.Background(), otherUser, rx.ID)
	assertErrorIs(t, err, ErrForbidden)
	if _, err := engine.prescriptions.GetPrescription(context.Background(), admin, rx.ID); err != nil {
		t.Fatalf("admin view: %v", err)
	}
	_, err = engine.prescriptions.GetPrescription(context.Background(), admin, "rx_missing")
	assertErrorIs(t, err, ErrPrescriptionNotFound)
}
