package tilesource

const (
	osmAttribution  = "© OpenStreetMap contributors, CC-BY-SA "
	osmLink         = "http://openstreetmap.org/"
	osmTerms        = "http://www.openstreetmap.org/copyright"
	mapQuestCredit  = "Tiles Courtesy of MapQuest "
	mapQuestWebsite = "http://www.mapquest.com"
	mapQuestTerms   = "http://developer.mapquest.com/web/products/open/map#terms"
	mapQuestMaxZoom = 18
	cycleMapMaxZoom = 17
	bingMaxZoom     = 22
	bingLink        = "http://go.microsoft.com/?linkid=9710837"
	bingTerms       = "http://opengeodata.org/microsoft-imagery-details"
)

// Mapnik is the standard OpenStreetMap layer.
func Mapnik() *Source {
	return &Source{
		Name:           "Mapnik",
		URL:            "http://tile.openstreetmap.org/{z}/{x}/{y}.png",
		MaxZoom:        DefaultMaxZoom,
		TileSize:       DefaultTileSize,
		TileType:       DefaultTileType,
		Update:         IfNoneMatch,
		Attribution:    osmAttribution,
		AttributionURL: osmLink,
		TermsOfUseURL:  osmTerms,
	}
}

// CycleMap is the OpenCycleMap layer, spread over three servers.
func CycleMap() *Source {
	return &Source{
		Name:           "OSM Cycle Map",
		URL:            "http://{s}.tile.opencyclemap.org/cycle/{z}/{x}/{y}.png",
		Servers:        []string{"a", "b", "c"},
		MaxZoom:        cycleMapMaxZoom,
		TileSize:       DefaultTileSize,
		TileType:       DefaultTileType,
		Update:         LastModified,
		Attribution:    osmAttribution,
		AttributionURL: osmLink,
		TermsOfUseURL:  osmTerms,
	}
}

// BingAerial is Bing Maps aerial imagery, addressed by quadkey. Its servers
// answer with capture date metadata headers.
func BingAerial() *Source {
	return &Source{
		Name:           "Bing Aerial Maps",
		URL:            "http://ecn.t{s}.tiles.virtualearth.net/tiles/a{quadkey}.jpeg?g=587",
		Servers:        []string{"0", "1", "2", "3"},
		MinZoom:        1,
		MaxZoom:        bingMaxZoom,
		TileSize:       DefaultTileSize,
		TileType:       "jpeg",
		Update:         IfNoneMatch,
		Attribution:    "Bing Aerial Maps",
		AttributionURL: bingLink,
		TermsOfUseURL:  bingTerms,
	}
}

// MapQuestOSM is the MapQuest rendering of OpenStreetMap data.
func MapQuestOSM() *Source {
	return &Source{
		Name:           "MapQuest-OSM",
		URL:            "http://otile{s}.mqcdn.com/tiles/1.0.0/osm/{z}/{x}/{y}.png",
		Servers:        []string{"1", "2", "3", "4"},
		MaxZoom:        mapQuestMaxZoom,
		TileSize:       DefaultTileSize,
		TileType:       DefaultTileType,
		Update:         IfModifiedSince,
		Attribution:    osmAttribution + "- " + mapQuestCredit,
		AttributionURL: osmLink,
		TermsOfUseURL:  mapQuestTerms,
	}
}

// MapQuestAerial is the MapQuest open aerial imagery layer.
func MapQuestAerial() *Source {
	return &Source{
		Name:           "MapQuest Open Aerial",
		URL:            "http://oatile{s}.mqcdn.com/tiles/1.0.0/sat/{z}/{x}/{y}.png",
		Servers:        []string{"1", "2", "3", "4"},
		MaxZoom:        mapQuestMaxZoom,
		TileSize:       DefaultTileSize,
		TileType:       DefaultTileType,
		Update:         IfModifiedSince,
		Attribution:    "Portions Courtesy NASA/JPL-Caltech and U.S. Depart. of Agriculture, Farm Service Agency - " + mapQuestCredit,
		AttributionURL: mapQuestWebsite,
		TermsOfUseURL:  mapQuestTerms,
	}
}

// Builtin returns fresh copies of the built-in sources, Mapnik first.
func Builtin() []*Source {
	return []*Source{Mapnik(), CycleMap(), BingAerial(), MapQuestOSM(), MapQuestAerial()}
}
