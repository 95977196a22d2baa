package content

import "time"

// Zone is one layout region of a page. MainZone marks the primary body
// region; Inherited zones share their content sets with child pages instead
// of duplicating them on clone.
type Zone struct {
	MainZone  bool `json:"mainZone"`
	Inherited bool `json:"inherited"`
}

// Layout describes the zone grid a page renders into.
type Layout struct {
	UID   string `json:"uid"`
	Label string `json:"label"`
	Zones []Zone `json:"zones"`
}

// Page is the minimal page entity the engine needs: the zone layout and the
// content sets filling each zone, in zone order.
type Page struct {
	UID            string
	SiteUID        string
	Label          string
	Layout         *Layout
	ContentSetUIDs []string
	CreatedAt      time.Time
	ModifiedAt     time.Time
}

// ZoneIndexOf returns the zone position filled by the given content set.
func (p *Page) ZoneIndexOf(setUID string) (int, bool) {
	for i, uid := range p.ContentSetUIDs {
		if uid == setUID {
			return i, true
		}
	}
	return 0, false
}

func (p *Page) Zone(i int) *Zone {
	if p.Layout == nil || i < 0 || i >= len(p.Layout.Zones) {
		return nil
	}
	return &p.Layout.Zones[i]
}

// MainZoneIndex returns the position of the layout's main zone.
func (p *Page) MainZoneIndex() (int, bool) {
	if p.Layout == nil {
		return 0, false
	}
	for i, zone := range p.Layout.Zones {
		if zone.MainZone {
			return i, true
		}
	}
	return 0, false
}
