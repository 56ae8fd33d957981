package dynamo

// Record kinds.
const (
	KindInternal = "internal"
	KindField    = "field"
	KindTotal    = "total"
)

// Record is one sample of a run in long format. Cell is -1 for field and
// total samples.
type Record struct {
	Time      float64 `csv:"time" db:"time" json:"time"`
	Cell      int     `csv:"cell" db:"cell" json:"cell"`
	Kind      string  `csv:"kind" db:"kind" json:"kind"`
	Substrate string  `csv:"substrate" db:"substrate" json:"substrate"`
	Value     float64 `csv:"value" db:"value" json:"value"`
}

type Result struct {
	Records       []Record
	Metrics       map[string]float64
	Steps         int
	FailedUpdates int
}
