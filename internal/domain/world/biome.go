package world

type BiomeType string

const (
	BiomePlains      BiomeType = "PLAINS"
	BiomeForest      BiomeType = "FOREST"
	BiomeSnow        BiomeType = "SNOW"
	BiomeDesert      BiomeType = "DESERT"
	BiomeHaunted     BiomeType = "HAUNTED"
	BiomeRainForest  BiomeType = "RAIN_FOREST"
	BiomeRuins       BiomeType = "RUINS"
	BiomeCherryGrove BiomeType = "CHERRY_GROVE"
	BiomeBeach       BiomeType = "BEACH"
	BiomeOcean       BiomeType = "OCEAN"
)

var LandBiomes = []BiomeType{
	BiomePlains, BiomeForest, BiomeSnow, BiomeDesert,
	BiomeHaunted, BiomeRainForest, BiomeRuins, BiomeCherryGrove,
}

// BaseTemperature is the ambient temperature reported for a biome.
func BaseTemperature(b BiomeType) float64 {
	switch b {
	case BiomeSnow:
		return 0
	case BiomeDesert:
		return 40
	case BiomeHaunted:
		return 15
	case BiomeRainForest:
		return 28
	case BiomeForest:
		return 22
	case BiomePlains:
		return 25
	case BiomeBeach:
		return 30
	default:
		return 20
	}
}

// Weather derived from the biome most players are standing in.
func WeatherFor(b BiomeType) string {
	switch b {
	case BiomeSnow:
		return "snow"
	case BiomeRainForest:
		return "rain"
	case BiomeDesert:
		return "sandstorm"
	default:
		return "clear"
	}
}
