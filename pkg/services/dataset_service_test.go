package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sales-insight-api/pkg/models"

	"github.com/stretchr/testify/assert"
)

// sampleRecords 2015〜2017年の小さな売上データセット
func sampleRecords() []models.SalesRecord {
	return []models.SalesRecord{
		{Date: "2015-03-10", CustomerAge: 30, CustomerGender: "M", Country: "Canada", State: "Ontario",
			ProductCategory: "Bikes", Product: "Road Bike", OrderQuantity: 2, UnitCost: 100, UnitPrice: 250,
			Revenue: 500, Cost: 200, Profit: 100},
		{Date: "2015-06-21", CustomerAge: 30, CustomerGender: "M", Country: "Canada", State: "Ontario",
			ProductCategory: "Bikes", Product: "Mountain Bike", OrderQuantity: 1, UnitCost: 150, UnitPrice: 500,
			Revenue: 500, Cost: 300, Profit: 100},
		{Date: "2016-01-05", CustomerAge: 42, CustomerGender: "F", Country: "France", State: "Seine",
			ProductCategory: "Accessories", Product: "Helmet", OrderQuantity: 3, UnitCost: 10, UnitPrice: 50,
			Revenue: 150, Cost: 30, Profit: 120},
		{Date: "2016-11-30", CustomerAge: 42, CustomerGender: "F", Country: "France", State: "Seine",
			ProductCategory: "Bikes", Product: "Road Bike", OrderQuantity: 1, UnitCost: 100, UnitPrice: 1350,
			Revenue: 1350, Cost: 100, Profit: 1250},
		{Date: "2017-07-14", CustomerAge: 25, CustomerGender: "F", Country: "Germany", State: "Bayern",
			ProductCategory: "Clothing", Product: "Jersey", OrderQuantity: 2, UnitCost: 20, UnitPrice: 60,
			Revenue: 120, Cost: 40, Profit: 40},
	}
}

func loadedDataset(t *testing.T) *DatasetService {
	t.Helper()
	ds := NewDatasetService()
	info := ds.LoadFromRecords(sampleRecords())
	assert.Equal(t, 5, info.Rows)
	return ds
}

func TestProfitMarginByYear(t *testing.T) {
	ds := loadedDataset(t)

	year := 2015
	result, err := ds.ProfitMarginByYear(&year)
	assert.NoError(t, err)
	assert.Equal(t, "2015", result.Year)
	assert.Equal(t, 1000.0, result.Revenue)
	assert.Equal(t, 200.0, result.Profit)
	assert.Equal(t, 2, result.OrderCount)
	// 同一の複合キー（年齢+性別+国+州）なので1顧客として数えられる
	assert.Equal(t, 1, result.UniqueCustomers)
	if assert.NotNil(t, result.ProfitMargin) {
		assert.Equal(t, 20.0, *result.ProfitMargin)
	}
}

func TestProfitMarginAllYears(t *testing.T) {
	ds := loadedDataset(t)

	result, err := ds.ProfitMarginByYear(nil)
	assert.NoError(t, err)
	assert.Equal(t, "all", result.Year)
	assert.Equal(t, 2620.0, result.Revenue)
	assert.Equal(t, 5, result.OrderCount)
	assert.Equal(t, 3, result.UniqueCustomers)
}

func TestProfitMarginUnknownYearListsAvailableYears(t *testing.T) {
	ds := loadedDataset(t)

	year := 2099
	_, err := ds.ProfitMarginByYear(&year)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var notFound *YearNotFoundError
	if assert.True(t, errors.As(err, &notFound)) {
		// 存在する年がソート済みで全て列挙されること
		assert.Equal(t, []int{2015, 2016, 2017}, notFound.Available)
		assert.Equal(t, 2099, notFound.Year)
	}
}

func TestProfitMarginNoData(t *testing.T) {
	ds := NewDatasetService()
	_, err := ds.ProfitMarginByYear(nil)
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestProfitMarginNilWhenRevenueZero(t *testing.T) {
	ds := NewDatasetService()
	ds.LoadFromRecords([]models.SalesRecord{
		{Date: "2015-01-01", CustomerAge: 30, CustomerGender: "M", Country: "Canada", State: "Ontario",
			ProductCategory: "Bikes", Product: "Road Bike", OrderQuantity: 1,
			Revenue: 0, Cost: 50, Profit: -50},
	})

	result, err := ds.ProfitMarginByYear(nil)
	assert.NoError(t, err)
	// Revenue == 0 のとき利益率は0ではなく欠損
	assert.Nil(t, result.ProfitMargin)
}

func TestRevenueTrends(t *testing.T) {
	ds := loadedDataset(t)

	trends, err := ds.RevenueTrends(nil, nil)
	assert.NoError(t, err)
	assert.Len(t, trends, 3)

	// 年の昇順
	assert.Equal(t, 2015, trends[0].Year)
	assert.Equal(t, 2016, trends[1].Year)
	assert.Equal(t, 2017, trends[2].Year)

	// 先頭行の成長率は必ず nil
	assert.Nil(t, trends[0].RevenueGrowthPct)

	// 2015: 1000 → 2016: 1500 で成長率 50.0
	assert.Equal(t, 1500.0, trends[1].Revenue)
	if assert.NotNil(t, trends[1].RevenueGrowthPct) {
		assert.Equal(t, 50.0, *trends[1].RevenueGrowthPct)
	}

	// 2016: 1500 → 2017: 120 は -92.0
	if assert.NotNil(t, trends[2].RevenueGrowthPct) {
		assert.Equal(t, -92.0, *trends[2].RevenueGrowthPct)
	}
}

func TestRevenueTrendsZeroPreviousYear(t *testing.T) {
	ds := NewDatasetService()
	ds.LoadFromRecords([]models.SalesRecord{
		{Date: "2015-01-01", CustomerAge: 30, CustomerGender: "M", Country: "Canada", State: "Ontario",
			ProductCategory: "Bikes", Product: "Road Bike", OrderQuantity: 1, Revenue: 0, Cost: 0, Profit: 0},
		{Date: "2016-01-01", CustomerAge: 30, CustomerGender: "M", Country: "Canada", State: "Ontario",
			ProductCategory: "Bikes", Product: "Road Bike", OrderQuantity: 1, Revenue: 100, Cost: 50, Profit: 50},
	})

	trends, err := ds.RevenueTrends(nil, nil)
	assert.NoError(t, err)
	assert.Len(t, trends, 2)

	// 前年売上が0ならゼロ除算せず成長率は nil
	assert.Nil(t, trends[1].RevenueGrowthPct)
}

func TestRevenueTrendsBounds(t *testing.T) {
	ds := loadedDataset(t)

	start, end := 2016, 2016
	trends, err := ds.RevenueTrends(&start, &end)
	assert.NoError(t, err)
	assert.Len(t, trends, 1)
	assert.Equal(t, 2016, trends[0].Year)
}

func TestRevenueTrendsNoData(t *testing.T) {
	ds := NewDatasetService()
	_, err := ds.RevenueTrends(nil, nil)
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestTopProducts(t *testing.T) {
	ds := loadedDataset(t)

	products := ds.TopProducts(nil, 5)
	assert.NotEmpty(t, products)

	// 売上の降順であること
	for i := 1; i < len(products); i++ {
		assert.GreaterOrEqual(t, products[i-1].Revenue, products[i].Revenue)
	}
	assert.Equal(t, "Road Bike", products[0].Product)
	assert.Equal(t, 1850.0, products[0].Revenue)
}

func TestTopProductsLimit(t *testing.T) {
	ds := loadedDataset(t)

	products := ds.TopProducts(nil, 2)
	assert.Len(t, products, 2)
}

func TestTopProductsTieBreakByName(t *testing.T) {
	ds := NewDatasetService()
	ds.LoadFromRecords([]models.SalesRecord{
		{Date: "2015-01-01", CustomerAge: 30, CustomerGender: "M", Country: "Canada", State: "Ontario",
			ProductCategory: "Bikes", Product: "Zebra", OrderQuantity: 1, Revenue: 100, Cost: 50, Profit: 50},
		{Date: "2015-01-02", CustomerAge: 30, CustomerGender: "M", Country: "Canada", State: "Ontario",
			ProductCategory: "Bikes", Product: "Alpha", OrderQuantity: 1, Revenue: 100, Cost: 50, Profit: 50},
	})

	products := ds.TopProducts(nil, 5)
	assert.Len(t, products, 2)
	// 同額なら製品名の昇順（決定的であること）
	assert.Equal(t, "Alpha", products[0].Product)
	assert.Equal(t, "Zebra", products[1].Product)
}

func TestTopProductsAbsentYearIsEmptyNotError(t *testing.T) {
	ds := loadedDataset(t)

	year := 2099
	products := ds.TopProducts(&year, 5)
	assert.Empty(t, products)
}

func TestCustomerSummary(t *testing.T) {
	ds := loadedDataset(t)

	summary, err := ds.CustomerSummary()
	assert.NoError(t, err)
	assert.Equal(t, 3, summary.TotalCustomers)
	assert.Equal(t, 2620.0, summary.TotalRevenue)
	assert.NotEmpty(t, summary.TopCustomers)
	// 上位顧客は売上降順
	assert.Equal(t, "42_F_France_Seine", summary.TopCustomers[0].CustomerID)
	assert.Equal(t, 1500.0, summary.TopCustomers[0].TotalRevenue)
}

func TestCustomerSummaryUnavailableBeforeLoad(t *testing.T) {
	ds := NewDatasetService()
	_, err := ds.CustomerSummary()
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestSummary(t *testing.T) {
	ds := loadedDataset(t)

	summary, err := ds.Summary()
	assert.NoError(t, err)
	assert.Equal(t, 5, summary.TotalRecords)
	assert.Equal(t, []int{2015, 2016, 2017}, summary.YearsAvailable)
	assert.Equal(t, []string{"Canada", "France", "Germany"}, summary.Countries)
	assert.Equal(t, "2015-03-10", summary.DateRange.Start)
	assert.Equal(t, "2017-07-14", summary.DateRange.End)
}

func TestLoadAndPrepareCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.csv")
	csvContent := "Date,Customer_Age,Customer_Gender,Country,State,Product_Category,Sub_Category,Product,Order_Quantity,Unit_Cost,Unit_Price,Revenue,Cost,Profit\n" +
		"10/03/2015,30,M,Canada,Ontario,Bikes,Road Bikes,Road Bike,2,100,250,500,200,100\n" +
		"10/03/2015,30,M,Canada,Ontario,Bikes,Road Bikes,Road Bike,2,100,250,500,200,100\n" + // 完全重複行
		"bad-date,30,M,Canada,Ontario,Bikes,Road Bikes,Road Bike,2,100,250,500,200,100\n" + // 日付不正
		"05/01/2016,42,F,France,Seine,Accessories,Helmets,Helmet,3,10,50,\"$1,350.00\",30,120\n"
	assert.NoError(t, os.WriteFile(path, []byte(csvContent), 0o644))

	ds := NewDatasetService()
	info, err := ds.LoadAndPrepare(path)
	assert.NoError(t, err)
	assert.Equal(t, 2, info.Rows)
	assert.Equal(t, 2, info.Skipped)
	assert.Equal(t, "2015-03-10", info.DateRange.Start)
	assert.Equal(t, "2016-01-05", info.DateRange.End)

	// 通貨フォーマットの値が解釈されること
	records := ds.Records()
	assert.Equal(t, 1350.0, records[1].Revenue)

	// 派生列の検証
	assert.Equal(t, 2015, records[0].Year)
	assert.Equal(t, 1, records[0].Quarter)
	assert.Equal(t, "30_M_Canada_Ontario", records[0].CustomerID)

	// 単価系指標: markup (250-100)/100*100 = 150.0, revenue/unit 500/2 = 250.0
	if assert.NotNil(t, records[0].MarkupPct) {
		assert.Equal(t, 150.0, *records[0].MarkupPct)
	}
	if assert.NotNil(t, records[0].RevenuePerUnit) {
		assert.Equal(t, 250.0, *records[0].RevenuePerUnit)
	}
	if assert.NotNil(t, records[0].ProfitPerUnit) {
		assert.Equal(t, 50.0, *records[0].ProfitPerUnit)
	}
}

func TestDerivedUnitMetricsMissingWhenDenominatorZero(t *testing.T) {
	ds := NewDatasetService()
	ds.LoadFromRecords([]models.SalesRecord{
		{Date: "2015-01-01", CustomerAge: 30, CustomerGender: "M", Country: "Canada", State: "Ontario",
			ProductCategory: "Bikes", Product: "Road Bike", OrderQuantity: 0, UnitCost: 0, UnitPrice: 100,
			Revenue: 100, Cost: 0, Profit: 100},
	})

	records := ds.Records()
	assert.Nil(t, records[0].MarkupPct)
	assert.Nil(t, records[0].RevenuePerUnit)
	assert.Nil(t, records[0].ProfitPerUnit)
}

func TestLoadAndPrepareMissingColumns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.csv")
	assert.NoError(t, os.WriteFile(path, []byte("Date,Product\n10/03/2015,Road Bike\n"), 0o644))

	ds := NewDatasetService()
	_, err := ds.LoadAndPrepare(path)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoadFailed))
	assert.Contains(t, err.Error(), "Revenue")
}

func TestLoadAndPrepareMissingFile(t *testing.T) {
	ds := NewDatasetService()
	_, err := ds.LoadAndPrepare(filepath.Join(t.TempDir(), "nope.csv"))
	assert.True(t, errors.Is(err, ErrLoadFailed))
}

func TestLoadAndPrepareUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.txt")
	assert.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	ds := NewDatasetService()
	_, err := ds.LoadAndPrepare(path)
	assert.True(t, errors.Is(err, ErrLoadFailed))
}
