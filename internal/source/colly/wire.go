package collysource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/breeder-harvester/internal/harvest"
)

type listingRequest struct {
	ActiveRegions []string `json:"regioniAttive"`
	BreedFilter   []string `json:"filtroRazze"`
}

type listingRow struct {
	Title  string     `json:"DesAffisso"`
	Owner  string     `json:"Proprietario"`
	ID     idString   `json:"IdAffisso"`
	Breeds []idString `json:"Razze"`
}

type detailDoc struct {
	Members []memberRow `json:"Soci"`
	Breeds  []breedRow  `json:"Razze"`
}

type memberRow struct {
	Description string   `json:"DesAssociato"`
	ID          idString `json:"IdAnagrafica"`
	Signatory   string   `json:"FlagFirmatario"`
	Address     string   `json:"DesIndirizzoSocio"`
	Town        string   `json:"DesLocalitaSocio"`
}

type breedRow struct {
	Code             idString `json:"CodRazza"`
	RemoteID         idString `json:"IdUmb"`
	LastLitter       string   `json:"UltimaCucciolata"`
	Description      string   `json:"DesRazza"`
	GroupCode        idString `json:"CodGruppo"`
	GroupDescription string   `json:"DesGruppo"`
}

// idString accepts identifiers the API sends either as JSON strings or numbers.
type idString string

func (s *idString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err //nolint:wrapcheck
		}
		*s = idString(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier %s: %w", b, err)
	}
	*s = idString(n.String())
	return nil
}

func rowsToEntities(rows []listingRow, partitionKey string) []harvest.Entity {
	seen := make(map[string]struct{}, len(rows))
	out := make([]harvest.Entity, 0, len(rows))
	for _, r := range rows {
		id := string(r.ID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, harvest.Entity{
			Title:         r.Title,
			Owner:         r.Owner,
			ID:            id,
			PartitionKey:  partitionKey,
			CategoryCodes: codes(r.Breeds),
		})
	}
	return out
}

func (d detailDoc) toResult(entityID string) harvest.PartialResult {
	res := harvest.PartialResult{EntityID: entityID}

	members := make(map[string]struct{}, len(d.Members))
	for _, m := range d.Members {
		id := string(m.ID)
		if _, dup := members[id]; dup || id == "" {
			continue
		}
		members[id] = struct{}{}
		res.Persons = append(res.Persons, harvest.Person{
			Description: m.Description,
			ID:          id,
			Signatory:   strings.EqualFold(strings.TrimSpace(m.Signatory), signatoryFlag),
			Address:     m.Address,
			Town:        m.Town,
			EntityIDs:   []string{entityID},
		})
	}

	breeds := make(map[string]struct{}, len(d.Breeds))
	for _, b := range d.Breeds {
		code := string(b.Code)
		if _, dup := breeds[code]; dup || code == "" {
			continue
		}
		breeds[code] = struct{}{}
		res.Categories = append(res.Categories, harvest.Category{
			Code:             code,
			RemoteID:         string(b.RemoteID),
			LastUpdate:       b.LastLitter,
			Description:      b.Description,
			GroupCode:        string(b.GroupCode),
			GroupDescription: b.GroupDescription,
		})
	}
	return res
}

func codes(in []idString) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		if c != "" {
			out = append(out, string(c))
		}
	}
	return out
}
