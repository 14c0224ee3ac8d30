package services

import (
	"errors"
	"fmt"
)

// エラー分類。コンポーネント境界を越えて panic させず、
// コーディネーター側で失敗エンベロープに変換するための判別に使う。
var (
	// ErrNotFound クエリのパラメータが存在しないデータを参照した
	ErrNotFound = errors.New("not found")
	// ErrNoData データセットが未ロード、または空
	ErrNoData = errors.New("no data loaded")
	// ErrUnavailable 依存するプロジェクション等がまだ構築されていない
	ErrUnavailable = errors.New("unavailable")
	// ErrLoadFailed データソースの読み込みまたは必須列の検証に失敗した
	ErrLoadFailed = errors.New("load failed")
	// ErrModelUnavailable フォールバックリストの全モデルが容量超過だった
	ErrModelUnavailable = errors.New("all models at capacity")
)

// YearNotFoundError is returned when a query references a year absent from
// the dataset. It always enumerates the years that are present.
type YearNotFoundError struct {
	Year      int
	Available []int
}

func (e *YearNotFoundError) Error() string {
	return fmt.Sprintf("no data found for year %d (available years: %v)", e.Year, e.Available)
}

// Unwrap lets errors.Is(err, ErrNotFound) match.
func (e *YearNotFoundError) Unwrap() error {
	return ErrNotFound
}
