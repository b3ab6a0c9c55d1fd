package repositories

// SumCommitLines validates commit lines and folds repeated item ids together. The returned order
// lists each item id once, in first-seen order, so backends read and write deterministically.
func SumCommitLines(lines []StockCommitLine) (map[string]int, []string, error) {
	if len(lines) == 0 {
		return nil, nil, NewStockError(StockErrorInvalidInput, "", "at least one commit line is required", nil)
	}
	totals := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		if line.ItemID == "" || line.Quantity <= 0 {
			return nil, nil, NewStockError(StockErrorInvalidInput, line.ItemID, "commit lines need an item id and a positive quantity", nil)
		}
		if _, seen := totals[line.ItemID]; !seen {
			order = append(order, line.ItemID)
		}
		totals[line.ItemID] += line.Quantity
	}
	return totals, order, nil
}
