package services

import (
	"fmt"
	"math"
	"sort"
	"time"

	"sales-insight-api/pkg/models"
)

// AnalyticsService はデータセット全体の多セクションレポートを生成します。
// セクション: kpis / correlations / yearly_trends / segmentation
type AnalyticsService struct{}

// NewAnalyticsService 新しい分析サービスを作成
func NewAnalyticsService() *AnalyticsService {
	return &AnalyticsService{}
}

// RunFullReport runs every report section against the current dataset.
// Failures are reported in the envelope, never raised.
func (as *AnalyticsService) RunFullReport(ds *DatasetService) models.AnalyticsReport {
	records := ds.Records()
	if len(records) == 0 {
		return models.AnalyticsReport{
			Success: false,
			Error:   "dataset is empty",
		}
	}

	sections := make(map[string]any)
	sections["kpis"] = buildKPIs(records)
	sections["correlations"] = buildCorrelations(records)

	trends, err := ds.RevenueTrends(nil, nil)
	if err != nil {
		return models.AnalyticsReport{
			Success: false,
			Error:   fmt.Sprintf("yearly trends failed: %v", err),
		}
	}
	sections["yearly_trends"] = trends

	sections["segmentation"] = map[string][]models.SegmentStat{
		"by_category": segmentBy(records, func(r *models.SalesRecord) string { return r.ProductCategory }),
		"by_country":  segmentBy(records, func(r *models.SalesRecord) string { return r.Country }),
	}

	return models.AnalyticsReport{
		Success:     true,
		Sections:    sections,
		GeneratedAt: time.Now().Format(time.RFC3339),
	}
}

// buildKPIs 主要KPIを集計
func buildKPIs(records []models.SalesRecord) models.KPISection {
	var revenue, profit, cost float64
	var orders int
	products := make(map[string]bool)
	customers := make(map[string]bool)

	for i := range records {
		rec := &records[i]
		revenue += rec.Revenue
		profit += rec.Profit
		cost += rec.Cost
		orders += rec.OrderQuantity
		products[rec.Product] = true
		customers[rec.CustomerID] = true
	}

	kpis := models.KPISection{
		TotalRevenue:    revenue,
		TotalProfit:     profit,
		TotalCost:       cost,
		TotalOrders:     orders,
		UniqueCustomers: len(customers),
		UniqueProducts:  len(products),
	}
	if revenue != 0 {
		margin := round2(profit / revenue * 100)
		kpis.AvgProfitMargin = &margin
	}
	return kpis
}

// buildCorrelations は主要な数値列ペアのピアソン相関を計算します。
// 分散が0のペアは結果から除外します。
func buildCorrelations(records []models.SalesRecord) []models.CorrelationResult {
	fields := map[string]func(*models.SalesRecord) float64{
		"order_quantity": func(r *models.SalesRecord) float64 { return float64(r.OrderQuantity) },
		"unit_price":     func(r *models.SalesRecord) float64 { return r.UnitPrice },
		"revenue":        func(r *models.SalesRecord) float64 { return r.Revenue },
		"profit":         func(r *models.SalesRecord) float64 { return r.Profit },
		"customer_age":   func(r *models.SalesRecord) float64 { return float64(r.CustomerAge) },
	}

	pairs := [][2]string{
		{"order_quantity", "revenue"},
		{"unit_price", "revenue"},
		{"revenue", "profit"},
		{"customer_age", "revenue"},
	}

	var results []models.CorrelationResult
	for _, pair := range pairs {
		x := make([]float64, len(records))
		y := make([]float64, len(records))
		for i := range records {
			x[i] = fields[pair[0]](&records[i])
			y[i] = fields[pair[1]](&records[i])
		}
		r, err := pearsonCorrelation(x, y)
		if err != nil {
			continue
		}
		results = append(results, models.CorrelationResult{
			FieldX:         pair[0],
			FieldY:         pair[1],
			Coefficient:    round2(r),
			Interpretation: interpretCorrelation(r),
		})
	}

	// 相関係数の絶対値でソート（降順）
	sort.Slice(results, func(i, j int) bool {
		return math.Abs(results[i].Coefficient) > math.Abs(results[j].Coefficient)
	})
	return results
}

// pearsonCorrelation 2つのデータ系列のピアソン相関係数を計算
func pearsonCorrelation(x, y []float64) (float64, error) {
	if len(x) != len(y) || len(x) == 0 {
		return 0, fmt.Errorf("データ系列の長さが一致しないか、空です")
	}

	n := float64(len(x))
	var sumX, sumY, sumXY, sumX2, sumY2 float64

	for i := 0; i < len(x); i++ {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumX2 += x[i] * x[i]
		sumY2 += y[i] * y[i]
	}

	numerator := n*sumXY - sumX*sumY
	denominator := math.Sqrt((n*sumX2 - sumX*sumX) * (n*sumY2 - sumY*sumY))

	if denominator == 0 {
		return 0, fmt.Errorf("分母が0になりました（標準偏差が0）")
	}

	return numerator / denominator, nil
}

// interpretCorrelation 相関係数の強さを分類
func interpretCorrelation(r float64) string {
	abs := math.Abs(r)
	switch {
	case abs >= 0.7:
		return "strong"
	case abs >= 0.4:
		return "moderate"
	case abs >= 0.2:
		return "weak"
	default:
		return "negligible"
	}
}

// segmentBy はキー関数ごとに売上/利益/注文数を集計し、売上降順で返します。
func segmentBy(records []models.SalesRecord, key func(*models.SalesRecord) string) []models.SegmentStat {
	type acc struct {
		revenue float64
		profit  float64
		orders  int
	}
	bySegment := make(map[string]*acc)
	for i := range records {
		k := key(&records[i])
		a, ok := bySegment[k]
		if !ok {
			a = &acc{}
			bySegment[k] = a
		}
		a.revenue += records[i].Revenue
		a.profit += records[i].Profit
		a.orders += records[i].OrderQuantity
	}

	stats := make([]models.SegmentStat, 0, len(bySegment))
	for k, a := range bySegment {
		stats = append(stats, models.SegmentStat{
			Segment: k,
			Revenue: a.revenue,
			Profit:  a.profit,
			Orders:  a.orders,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Revenue != stats[j].Revenue {
			return stats[i].Revenue > stats[j].Revenue
		}
		return stats[i].Segment < stats[j].Segment
	})
	return stats
}
