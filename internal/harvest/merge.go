package harvest

// Aggregator folds partial results into canonical person and category sets.
//
// Persons are keyed by id: the first occurrence fixes every field and later
// occurrences only contribute entity ids not yet associated. Categories are
// keyed by code: the first occurrence wins and later ones are dropped whole,
// even when their fields differ. Both rules depend on fold order.
type Aggregator struct {
	persons       map[string]*Person
	personEntity  map[string]map[string]struct{}
	personOrder   []string
	categories    map[string]Category
	categoryOrder []string
	duplicates    int
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		persons:      make(map[string]*Person),
		personEntity: make(map[string]map[string]struct{}),
		categories:   make(map[string]Category),
	}
}

// Add folds one partial result.
func (a *Aggregator) Add(r PartialResult) {
	for _, p := range r.Persons {
		if len(p.EntityIDs) == 0 && r.EntityID != "" {
			p.EntityIDs = []string{r.EntityID}
		}
		if canonical, ok := a.persons[p.ID]; ok {
			a.mergePerson(canonical, p)
			continue
		}
		a.addPerson(p)
	}
	for _, c := range r.Categories {
		if _, ok := a.categories[c.Code]; ok {
			a.duplicates++
			continue
		}
		a.categories[c.Code] = c
		a.categoryOrder = append(a.categoryOrder, c.Code)
	}
}

func (a *Aggregator) addPerson(p Person) {
	seen := make(map[string]struct{}, len(p.EntityIDs))
	ids := make([]string, 0, len(p.EntityIDs))
	for _, id := range p.EntityIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	p.EntityIDs = ids
	a.persons[p.ID] = &p
	a.personEntity[p.ID] = seen
	a.personOrder = append(a.personOrder, p.ID)
}

// mergePerson unions the incoming associations into the canonical record.
// No other field is touched.
func (a *Aggregator) mergePerson(canonical *Person, incoming Person) {
	seen := a.personEntity[canonical.ID]
	for _, id := range incoming.EntityIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		canonical.EntityIDs = append(canonical.EntityIDs, id)
	}
}

// Persons returns the canonical persons in first-seen order.
func (a *Aggregator) Persons() []Person {
	out := make([]Person, 0, len(a.personOrder))
	for _, id := range a.personOrder {
		p := *a.persons[id]
		p.EntityIDs = append([]string(nil), p.EntityIDs...)
		out = append(out, p)
	}
	return out
}

// Categories returns the canonical categories in first-seen order.
func (a *Aggregator) Categories() []Category {
	out := make([]Category, 0, len(a.categoryOrder))
	for _, code := range a.categoryOrder {
		out = append(out, a.categories[code])
	}
	return out
}

// DuplicateCategories counts category observations discarded by the fold.
func (a *Aggregator) DuplicateCategories() int {
	return a.duplicates
}

// Merge folds results in order and returns the canonical sets.
func Merge(results []PartialResult) ([]Person, []Category, int) {
	a := NewAggregator()
	for _, r := range results {
		a.Add(r)
	}
	return a.Persons(), a.Categories(), a.DuplicateCategories()
}
