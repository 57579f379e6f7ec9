package review

// ProductRef identifies a product found by a search.
type ProductRef struct {
	Name string
	URL  string
}

// Raw is one scraped review item. RatingText may be empty or malformed.
type Raw struct {
	ProductName string
	ProductLink string
	RatingText  string
	Text        string
}

// Normalized is a raw review with extracted fields and a rating-derived label.
type Normalized struct {
	ProductName  string
	ProductLink  string
	RatingText   string
	Text         string
	Manufacturer *string
	Chipset      *string
	Distributor  string
	Rating       float64 // 0-5
	Sentiment    Label
}

// Classified is a normalized review with the model's prediction.
type Classified struct {
	Normalized
	Predicted  Label
	Confidence float64
}
