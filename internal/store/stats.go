package store

// Stats summarizes the store contents.
type Stats struct {
	Backend    string         `json:"backend"`
	Total      int            `json:"total"`
	Live       int            `json:"live"`
	Archived   int            `json:"archived"`
	Superseded int            `json:"superseded"`
	ByType     map[string]int `json:"byType"`
	ByScope    map[string]int `json:"byScope"`
	Shards     map[string]int `json:"shards"`
	Pending    int            `json:"pendingShards"`
}

// Stats returns counts computed from the index.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Backend: s.backend.Describe(),
		Total:   len(s.index),
		ByType:  make(map[string]int),
		ByScope: make(map[string]int),
		Shards:  make(map[string]int),
		Pending: len(s.dirty),
	}
	for id, ix := range s.index {
		switch {
		case ix.SupersededBy != "":
			st.Superseded++
		case ix.Archived:
			st.Archived++
		default:
			st.Live++
		}
		st.ByType[string(ix.Type)]++
		st.ByScope[string(ix.Scope)]++
		st.Shards[s.shardOf[id]]++
	}
	return st
}
