// Package internal contiene los componentes del núcleo de Relay: resolución
// de símbolos, registro de cuentas, catálogo de brokers, traducción de
// señales, mailboxes y el engine de fan-out.
package internal

import (
	"regexp"
	"sort"
	"strings"
)

// ---------- Aliases base ----------

// defaultBaseAliases retorna la tabla base de aliases símbolo→canónico.
//
// Las claves son lowercase; cubre los pares y commodities más comunes.
// La tabla puede sobreescribirse vía configuración (JSON en etcd).
func defaultBaseAliases() map[string]string {
	return map[string]string{
		// Forex majors
		"eurusd": "EURUSD",
		"gbpusd": "GBPUSD",
		"usdjpy": "USDJPY",
		"usdchf": "USDCHF",
		"usdcad": "USDCAD",
		"audusd": "AUDUSD",
		"nzdusd": "NZDUSD",

		// Metales
		"xauusd":  "XAUUSD",
		"xauusdm": "XAUUSD",
		"gold":    "XAUUSD",
		"xagusd":  "XAGUSD",
		"silver":  "XAGUSD",

		// Petróleo
		"usoil": "USOIL",
		"ukoil": "UKOIL",
		"wti":   "USOIL",
		"brent": "UKOIL",

		// Crypto
		"btcusd":   "BTCUSD",
		"ethusd":   "ETHUSD",
		"bitcoin":  "BTCUSD",
		"ethereum": "ETHUSD",

		// Índices
		"us30":   "US30",
		"us500":  "US500",
		"nas100": "NAS100",
		"ger30":  "GER30",
		"uk100":  "UK100",
		"jp225":  "JP225",
		"aus200": "AUS200",
	}
}

// ---------- Aliases canónicos ----------

// canonicalAliases mapea un instrumento canónico (uppercase) a las
// variantes de nombre con las que los brokers suelen listarlo. Se usa en
// la etapa de aliases del cascade: las variantes se comparan
// case-insensitive contra los candidatos reales.
var canonicalAliases = map[string][]string{
	// Oro
	"XAUUSD": {"XAUUSD", "XAUUSDs", "XAUUSDm", "XAUUSDc", "XAUUSD.cash", "XAUUSD.spot", "GOLD", "GOLDm"},
	"GOLD":   {"GOLD", "XAUUSD", "XAUUSDs", "XAUUSDm", "GOLDm", "GOLD.spot"},

	// Petróleo
	"USOIL": {"USOIL", "usoil.cash", "USOIL.cash", "USOILm", "USOILs", "CRUDE", "OIL", "WTI"},
	"CRUDE": {"CRUDE", "USOIL", "usoil.cash", "WTI", "OIL"},
	"WTI":   {"WTI", "USOIL", "usoil.cash", "CRUDE"},
	"OIL":   {"OIL", "USOIL", "usoil.cash", "WTI", "CRUDE"},

	// S&P 500
	"SP500":  {"SP500", "US500", "SPX500", "S&P500", "SPY", "ES", "US500m", "SPX500m"},
	"US500":  {"US500", "SP500", "SPX500", "S&P500", "US500m", "US500s"},
	"SPX500": {"SPX500", "SP500", "US500", "S&P500", "SPX500m"},

	// Nasdaq
	"NAS100": {"NAS100", "NASDAQ", "NDX", "QQQ", "US100", "NAS100m", "US100m"},
	"NASDAQ": {"NASDAQ", "NAS100", "US100", "NDX", "QQQ"},
	"US100":  {"US100", "NAS100", "NASDAQ", "US100m", "US100s"},

	// Dow Jones
	"DJ30": {"DJ30", "DJIA", "DOW", "US30", "YM", "DJ30m", "US30m"},
	"US30": {"US30", "DJ30", "DJIA", "DOW", "US30m", "US30s"},
	"DJIA": {"DJIA", "DJ30", "US30", "DOW"},
	"DOW":  {"DOW", "DJIA", "DJ30", "US30"},

	// Bitcoin
	"BTCUSD":  {"BTCUSD", "BTCUSDm", "BTCUSDs", "BTCUSD.cash", "BTC", "BITCOIN"},
	"BTC":     {"BTC", "BTCUSD", "BTCUSDm", "BITCOIN"},
	"BITCOIN": {"BITCOIN", "BTC", "BTCUSD", "BTCUSDm"},

	// Forex majors
	"EURUSD": {"EURUSD", "EURUSDm", "EURUSDs", "EURUSD.mini", "EURUSD.cash"},
	"GBPUSD": {"GBPUSD", "GBPUSDm", "GBPUSDs", "GBPUSD.pro", "GBPUSD.cash"},
	"USDJPY": {"USDJPY", "USDJPYm", "USDJPYs", "USDJPY.fx", "USDJPY.cash"},
	"AUDUSD": {"AUDUSD", "AUDUSDm", "AUDUSDs", "AUDUSD.cash"},
	"USDCAD": {"USDCAD", "USDCADm", "USDCADs", "USDCAD.cash"},
	"USDCHF": {"USDCHF", "USDCHFm", "USDCHFs", "USDCHF.cash"},
	"NZDUSD": {"NZDUSD", "NZDUSDm", "NZDUSDs", "NZDUSD.cash"},

	// Cruces
	"EURGBP": {"EURGBP", "EURGBPm", "EURGBPs", "EURGBP.cash"},
	"EURJPY": {"EURJPY", "EURJPYm", "EURJPYs", "EURJPY.cash"},
	"GBPJPY": {"GBPJPY", "GBPJPYm", "GBPJPYs", "GBPJPY.cash"},

	// Plata
	"XAGUSD": {"XAGUSD", "XAGUSDm", "XAGUSDs", "XAGUSD.cash", "SILVER", "SILVERm"},
	"SILVER": {"SILVER", "XAGUSD", "XAGUSDm", "SILVERm"},

	// Commodities
	"WHEAT":   {"WHEAT", "WHEATm", "WHEAT.cash"},
	"CORN":    {"CORN", "CORNm", "CORN.cash"},
	"SOYBEAN": {"SOYBEAN", "SOYBEANm", "SOYBEAN.cash"},
}

// ---------- Normalización ----------

// normalizeSuffixes son los decoradores de broker que se eliminan del
// final de un símbolo, uno solo por pasada, probando del más largo al
// más corto.
var normalizeSuffixes = []string{
	// Sufijos de una letra
	"s", "m", "c", "i", "f", "p", "x", "z", "e",

	// Sufijos multi-letra
	"_s", ".s", "_m", ".m", "_c", ".c", "_i", ".i",
	"_mini", ".mini", "_micro", ".micro", "_maj", ".maj",
	".cash", "_cash", ".spot", "_spot", ".raw", "_raw",
	"_fx", ".fx", ".pro", "_pro", ".ecn", "_ecn",
	".stp", "_stp", ".dma", "_dma", ".ndd", "_ndd",

	// Sufijos específicos de brokers
	"dm", "sm", "lm", "xl", "xs", "md", "lg",
	"_var", ".var", "_fix", ".fix", "_float", ".float",

	// Sufijos de versión/serie
	"_1", "_2", "_3", "_4", "_5", "_6", "_7", "_8", "_9",
	".1", ".2", ".3", ".4", ".5", ".6", ".7", ".8", ".9",
	"_v1", "_v2", "_v3", ".v1", ".v2", ".v3",
}

// normalizePrefixes son los prefijos de broker que se eliminan del inicio
// de un símbolo, uno solo por pasada.
var normalizePrefixes = []string{
	"M_", "MINI_", "MICRO_", "FX_", "FOREX_", "CFD_",
	"SPOT_", "CASH_", "DMA_", "STP_", "ECN_", "PRO_",
	"RAW_", "VAR_", "FIX_", "NDD_", "B_", "A_",
}

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)
	trailingDigits  = regexp.MustCompile(`\d+$`)

	// sortedSuffixes es normalizeSuffixes ordenado del más largo al más
	// corto, en uppercase, calculado una sola vez.
	sortedSuffixes = func() []string {
		out := make([]string, len(normalizeSuffixes))
		for i, s := range normalizeSuffixes {
			out[i] = strings.ToUpper(s)
		}
		sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
		return out
	}()
)

// NormalizeSymbol reduce un símbolo de broker a su forma canónica
// aproximada: uppercase, sin un sufijo/prefijo decorador conocido, sin
// caracteres especiales y sin dígitos finales.
func NormalizeSymbol(symbol string) string {
	if symbol == "" {
		return ""
	}

	normalized := strings.ToUpper(strings.TrimSpace(symbol))

	for _, suffix := range sortedSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			normalized = normalized[:len(normalized)-len(suffix)]
			break
		}
	}

	for _, prefix := range normalizePrefixes {
		if strings.HasPrefix(normalized, prefix) {
			normalized = normalized[len(prefix):]
			break
		}
	}

	normalized = nonAlphanumeric.ReplaceAllString(normalized, "")
	normalized = trailingDigits.ReplaceAllString(normalized, "")

	return normalized
}

// ---------- Similitud ----------

// equivalentSuffixes son sufijos que no cambian el instrumento: si un
// símbolo es el otro más uno de estos, se consideran casi equivalentes.
var equivalentSuffixes = []string{"s", "m", "c", "i", "f", "p", "x", "dm", "sm", "lm", "cash", "spot", "mini"}

// semanticPair es un par de nombres distintos del mismo instrumento.
type semanticPair struct {
	a, b  string
	score float64
}

// semanticPairs son sustituciones conocidas entre nombres de mercado.
var semanticPairs = []semanticPair{
	{"SP500", "US500", 0.95},
	{"NAS100", "US100", 0.95},
	{"DJ30", "US30", 0.95},
	{"USOIL", "CRUDE", 0.9},
	{"GOLD", "XAUUSD", 0.9},
	{"SILVER", "XAGUSD", 0.9},
	{"BTC", "BTCUSD", 0.9},
	{"BITCOIN", "BTCUSD", 0.85},
}

// Similarity calcula la similitud entre dos símbolos en [0, 1].
//
// Parte del ratio Ratcliff/Obershelp y aplica tres bonos: formas
// normalizadas iguales (≥0.9), sufijo equivalente conocido (≥0.85) y
// pares semánticos del mismo instrumento.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0.0
	}

	score := fuzzyRatio(a, b)

	normA := NormalizeSymbol(a)
	normB := NormalizeSymbol(b)
	if normA != "" && normA == normB {
		score = maxFloat(score, 0.9)
	}

	lowerA := strings.ToLower(a)
	lowerB := strings.ToLower(b)
	for _, suffix := range equivalentSuffixes {
		if lowerA == lowerB+suffix || lowerB == lowerA+suffix {
			score = maxFloat(score, 0.85)
			break
		}
	}

	upperA := strings.ToUpper(a)
	upperB := strings.ToUpper(b)
	for _, pair := range semanticPairs {
		if (upperA == pair.a && upperB == pair.b) || (upperA == pair.b && upperB == pair.a) {
			score = maxFloat(score, pair.score)
			break
		}
	}

	return score
}

// fuzzyRatio implementa el ratio Ratcliff/Obershelp: 2·M / (len(a)+len(b)),
// donde M son los caracteres emparejados recursivamente alrededor de la
// subcadena común más larga.
func fuzzyRatio(a, b string) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matchingChars(a, b)) / float64(total)
}

// matchingChars cuenta los caracteres emparejados entre a y b: la
// subcadena común más larga, más los emparejados a cada lado de ella.
func matchingChars(a, b string) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingChars(a[:ai], b[:bi]) +
		matchingChars(a[ai+size:], b[bi+size:])
}

// longestCommonSubstring retorna inicio en a, inicio en b y longitud de
// la subcadena común más larga.
func longestCommonSubstring(a, b string) (int, int, int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}

	bestA, bestB, bestLen := 0, 0, 0
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > bestLen {
					bestLen = curr[j]
					bestA = i - bestLen
					bestB = j - bestLen
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}

	return bestA, bestB, bestLen
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
