package nmea

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// GGAPrefix is the sentence prefix forwarded to the correction service by
// default. Hiper receivers emit GPS-talker GGA.
const GGAPrefix = "$GPGGA"

type Sentence struct {
	Type string
	// Fields is the comma-split payload (excluding $ and checksum).
	Fields []string
}

// Checksum returns the XOR of every byte of body. body must not include the
// leading '$' or the '*' delimiter.
func Checksum(body string) byte {
	ck := byte(0)
	for i := 0; i < len(body); i++ {
		ck ^= body[i]
	}
	return ck
}

// Frame wraps body as "$<body>*<CS>" with a two digit upper-case checksum.
func Frame(body string) string {
	return fmt.Sprintf("$%s*%02X", body, Checksum(body))
}

// HasPrefix reports whether line (ignoring surrounding whitespace) starts with
// prefix.
func HasPrefix(line, prefix string) bool {
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(line), prefix)
}

func Parse(line string) (Sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Sentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return Sentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return Sentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return Sentence{}, fmt.Errorf("nmea: bad checksum")
	}
	if Checksum(payload) != want[0] {
		return Sentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	typeField := parts[0]
	if len(typeField) < 3 {
		return Sentence{}, fmt.Errorf("nmea: short type")
	}
	// Accept GNxxx/GPxxx, etc; normalize to last 3 chars.
	t := typeField
	if len(t) > 3 {
		t = t[len(t)-3:]
	}
	return Sentence{Type: strings.ToUpper(t), Fields: parts}, nil
}
