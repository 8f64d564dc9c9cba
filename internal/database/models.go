package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Lead workflow statuses
const (
	LeadStatusNew          = "new"
	LeadStatusNotContacted = "not_contacted"
	LeadStatusContacted    = "contacted"
	LeadStatusWon          = "won"
	LeadStatusLost         = "lost"
	LeadStatusWait         = "wait"
	LeadStatusConverted    = "converted"
)

// Case event kinds
const (
	EventScraped       = "scraped"
	EventStatusChange  = "status_change"
	EventTemplateSent  = "template_sent"
	EventDocumentFiled = "document_filed"
)

// Case is one court filing, keyed by the jurisdiction's case number
type Case struct {
	CaseID      string    `json:"case_id" gorm:"primaryKey"`
	CourtCode   string    `json:"court_code" gorm:"index"`
	Source      string    `json:"source"`
	FilingDate  time.Time `json:"filing_date" gorm:"index"`
	OffenseDate time.Time `json:"offense_date"`
	CaseType    string    `json:"case_type"`
	CaseStatus  string    `json:"case_status"`
	Charges     []Charge  `json:"charges" gorm:"serializer:json"`
	ChargesTag  string    `json:"charges_tag"`
	Parties     []Party   `json:"parties" gorm:"serializer:json"`

	FirstName   string    `json:"first_name"`
	MiddleName  string    `json:"middle_name"`
	LastName    string    `json:"last_name"`
	BirthDate   time.Time `json:"birth_date"`
	YearOfBirth int       `json:"year_of_birth"`

	AddressLine1 string `json:"address_line1"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zip          string `json:"zip"`

	Documents []CaseDocument `json:"documents" gorm:"foreignKey:CaseID;references:CaseID"`
	Events    []Event        `json:"events" gorm:"serializer:json"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Charge is one count filed in a case
type Charge struct {
	Description string    `json:"description"`
	Statute     string    `json:"statute"`
	Degree      string    `json:"degree"`
	Fine        float64   `json:"fine"`
	OffenseDate time.Time `json:"offense_date"`
}

// Party is a named participant in a case
type Party struct {
	Role    string `json:"role"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Event is an append-only workflow entry on a case
type Event struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
}

// CaseDocument is a file attached to a case, remote until downloaded
type CaseDocument struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	CaseID     string    `json:"case_id" gorm:"index"`
	Source     string    `json:"source"`
	FilePath   string    `json:"file_path"`
	Downloaded bool      `json:"downloaded"`
	StorageKey string    `json:"storage_key"`
	Archived   bool      `json:"archived"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Lead is the prospective client derived from a case
type Lead struct {
	CaseID          string    `json:"case_id" gorm:"primaryKey"`
	CourtCode       string    `json:"court_code" gorm:"index"`
	Status          string    `json:"status" gorm:"index"`
	FirstName       string    `json:"first_name"`
	MiddleName      string    `json:"middle_name"`
	LastName        string    `json:"last_name"`
	BirthDate       time.Time `json:"birth_date"`
	YearOfBirth     int       `json:"year_of_birth"`
	AddressLine1    string    `json:"address_line1"`
	City            string    `json:"city"`
	State           string    `json:"state"`
	Zip             string    `json:"zip"`
	FilingDate      time.Time `json:"filing_date"`
	Tag             string    `json:"tag"`
	Phones          []string  `json:"phones" gorm:"serializer:json"`
	Source          string    `json:"source"`
	CloudtalkUpload bool      `json:"cloudtalk_upload" gorm:"index"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Court is a static jurisdiction reference, created on first use
type Court struct {
	Code       string    `json:"code" gorm:"primaryKey"`
	State      string    `json:"state"`
	CountyCode string    `json:"county_code"`
	Name       string    `json:"name"`
	Scraper    string    `json:"scraper"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScraperState is the persisted cursor blob of one scraper
type ScraperState struct {
	Name      string    `json:"name" gorm:"primaryKey"`
	State     JSONMap   `json:"state" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JSONMap stores a map as JSON in a text column
type JSONMap map[string]interface{}

func (j JSONMap) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = JSONMap{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("JSONMap: unsupported column type")
	}
	m := JSONMap{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*j = m
	return nil
}

// NewLead derives the lead for a freshly inserted case
func NewLead(c *Case) *Lead {
	return &Lead{
		CaseID:       c.CaseID,
		CourtCode:    c.CourtCode,
		Status:       LeadStatusNew,
		FirstName:    c.FirstName,
		MiddleName:   c.MiddleName,
		LastName:     c.LastName,
		BirthDate:    c.BirthDate,
		YearOfBirth:  c.YearOfBirth,
		AddressLine1: c.AddressLine1,
		City:         c.City,
		State:        c.State,
		Zip:          c.Zip,
		FilingDate:   c.FilingDate,
		Tag:          c.ChargesTag,
		Phones:       []string{},
		Source:       c.Source,
	}
}

var leadTransitions = map[string][]string{
	LeadStatusNew:          {LeadStatusNotContacted, LeadStatusContacted},
	LeadStatusNotContacted: {LeadStatusContacted},
	LeadStatusContacted:    {LeadStatusWon, LeadStatusLost, LeadStatusWait, LeadStatusConverted},
	LeadStatusWait:         {LeadStatusContacted, LeadStatusWon, LeadStatusLost, LeadStatusConverted},
}

// CanTransition reports whether a lead may move from one status to another
func CanTransition(from, to string) bool {
	for _, next := range leadTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (Case) TableName() string {
	return "cases"
}

func (CaseDocument) TableName() string {
	return "case_documents"
}

func (Lead) TableName() string {
	return "leads"
}

func (Court) TableName() string {
	return "courts"
}

func (ScraperState) TableName() string {
	return "scraper_states"
}
