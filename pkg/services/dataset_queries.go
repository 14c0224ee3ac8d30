package services

import (
	"sort"
	"strconv"

	"sales-insight-api/pkg/models"
)

// クエリ操作はすべて読み取り専用で、データセットを一切変更しません。

// ProfitMarginByYear returns aggregated financials for one year, or for the
// whole dataset when year is nil. A year absent from the dataset yields a
// YearNotFoundError listing the available years.
func (ds *DatasetService) ProfitMarginByYear(year *int) (*models.YearFinancials, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if len(ds.records) == 0 {
		return nil, ErrNoData
	}

	label := "all"
	matched := ds.records
	if year != nil {
		label = strconv.Itoa(*year)
		matched = nil
		for i := range ds.records {
			if ds.records[i].Year == *year {
				matched = append(matched, ds.records[i])
			}
		}
		if len(matched) == 0 {
			available := make([]int, len(ds.years))
			copy(available, ds.years)
			return nil, &YearNotFoundError{Year: *year, Available: available}
		}
	}

	var revenue, profit, cost float64
	customers := make(map[string]bool)
	for i := range matched {
		revenue += matched[i].Revenue
		profit += matched[i].Profit
		cost += matched[i].Cost
		customers[matched[i].CustomerID] = true
	}

	result := &models.YearFinancials{
		Year:            label,
		Revenue:         revenue,
		Profit:          profit,
		Cost:            cost,
		OrderCount:      len(matched),
		UniqueCustomers: len(customers),
	}
	// Revenue合計が0なら利益率は欠損
	if revenue != 0 {
		margin := round2(profit / revenue * 100)
		result.ProfitMargin = &margin
	}
	return result, nil
}

// RevenueTrends returns the per-year summary ordered by year ascending.
// Growth follows pct_change semantics: nil for the first row and whenever
// the previous year's revenue is zero.
func (ds *DatasetService) RevenueTrends(startYear, endYear *int) ([]models.YearTrend, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if len(ds.records) == 0 {
		return nil, ErrNoData
	}

	type acc struct {
		revenue   float64
		profit    float64
		orders    int
		customers map[string]bool
	}
	byYear := make(map[int]*acc)
	for i := range ds.records {
		rec := &ds.records[i]
		if startYear != nil && rec.Year < *startYear {
			continue
		}
		if endYear != nil && rec.Year > *endYear {
			continue
		}
		a, ok := byYear[rec.Year]
		if !ok {
			a = &acc{customers: make(map[string]bool)}
			byYear[rec.Year] = a
		}
		a.revenue += rec.Revenue
		a.profit += rec.Profit
		a.orders += rec.OrderQuantity
		a.customers[rec.CustomerID] = true
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	trends := make([]models.YearTrend, 0, len(years))
	var prevRevenue float64
	for i, y := range years {
		a := byYear[y]
		trend := models.YearTrend{
			Year:      y,
			Revenue:   a.revenue,
			Profit:    a.profit,
			Orders:    a.orders,
			Customers: len(a.customers),
		}
		if a.revenue != 0 {
			margin := round2(a.profit / a.revenue * 100)
			trend.ProfitMargin = &margin
		}
		// 先頭行と前年売上0の行は成長率なし（ゼロ除算を起こさない）
		if i > 0 && prevRevenue != 0 {
			growth := round2((a.revenue - prevRevenue) / prevRevenue * 100)
			trend.RevenueGrowthPct = &growth
		}
		prevRevenue = a.revenue
		trends = append(trends, trend)
	}

	return trends, nil
}

// TopProducts returns the top-limit products by summed revenue, descending,
// with ties broken by product name ascending. No matching rows is an empty
// list, not an error.
func (ds *DatasetService) TopProducts(year *int, limit int) []models.ProductRevenue {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if limit <= 0 {
		limit = 5
	}

	type acc struct {
		revenue float64
		profit  float64
		orders  int
	}
	byProduct := make(map[string]*acc)
	for i := range ds.records {
		rec := &ds.records[i]
		if year != nil && rec.Year != *year {
			continue
		}
		a, ok := byProduct[rec.Product]
		if !ok {
			a = &acc{}
			byProduct[rec.Product] = a
		}
		a.revenue += rec.Revenue
		a.profit += rec.Profit
		a.orders += rec.OrderQuantity
	}

	products := make([]models.ProductRevenue, 0, len(byProduct))
	for name, a := range byProduct {
		products = append(products, models.ProductRevenue{
			Product: name,
			Revenue: a.revenue,
			Profit:  a.profit,
			Orders:  a.orders,
		})
	}

	// 売上降順、同額は製品名昇順（決定的であること）
	sort.Slice(products, func(i, j int) bool {
		if products[i].Revenue != products[j].Revenue {
			return products[i].Revenue > products[j].Revenue
		}
		return products[i].Product < products[j].Product
	})

	if len(products) > limit {
		products = products[:limit]
	}
	return products
}

// CustomerSummary returns aggregate counts/means plus the top-5 customers
// by revenue from the customer projection.
func (ds *DatasetService) CustomerSummary() (*models.CustomerSummary, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if len(ds.customers) == 0 {
		return nil, ErrUnavailable
	}

	var totalRevenue float64
	var totalOrders int
	for i := range ds.customers {
		totalRevenue += ds.customers[i].TotalRevenue
		totalOrders += ds.customers[i].TotalOrders
	}

	ranked := make([]models.CustomerRecord, len(ds.customers))
	copy(ranked, ds.customers)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalRevenue != ranked[j].TotalRevenue {
			return ranked[i].TotalRevenue > ranked[j].TotalRevenue
		}
		return ranked[i].CustomerID < ranked[j].CustomerID
	})

	top := make([]models.TopCustomer, 0, 5)
	for i := 0; i < len(ranked) && i < 5; i++ {
		top = append(top, models.TopCustomer{
			CustomerID:   ranked[i].CustomerID,
			TotalRevenue: ranked[i].TotalRevenue,
			TotalOrders:  ranked[i].TotalOrders,
		})
	}

	n := float64(len(ds.customers))
	return &models.CustomerSummary{
		TotalCustomers:       len(ds.customers),
		TotalRevenue:         totalRevenue,
		AvgCustomerValue:     round2(totalRevenue / n),
		AvgOrdersPerCustomer: round2(float64(totalOrders) / n),
		TopCustomers:         top,
	}, nil
}

// Summary returns the overall dataset summary used as conversation context.
func (ds *DatasetService) Summary() (*models.DataSummary, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	if len(ds.records) == 0 {
		return nil, ErrNoData
	}

	var totalRevenue, totalProfit float64
	products := make(map[string]bool)
	customers := make(map[string]bool)
	countrySet := make(map[string]bool)
	for i := range ds.records {
		rec := &ds.records[i]
		totalRevenue += rec.Revenue
		totalProfit += rec.Profit
		products[rec.Product] = true
		customers[rec.CustomerID] = true
		countrySet[rec.Country] = true
	}

	countries := make([]string, 0, len(countrySet))
	for c := range countrySet {
		countries = append(countries, c)
	}
	sort.Strings(countries)

	years := make([]int, len(ds.years))
	copy(years, ds.years)

	start, end := dateRange(ds.records)
	return &models.DataSummary{
		TotalRecords:    len(ds.records),
		DateRange:       models.DateRange{Start: start, End: end},
		YearsAvailable:  years,
		TotalRevenue:    totalRevenue,
		TotalProfit:     totalProfit,
		UniqueProducts:  len(products),
		UniqueCustomers: len(customers),
		Countries:       countries,
	}, nil
}
