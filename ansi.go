package showrunner

import (
	"fmt"
	"html/template"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

// StripANSI removes CSI escape sequences from text.
func StripANSI(text string) string {
	return ansiPattern.ReplaceAllString(text, "")
}

// ConvertANSIToTerminalHTML reads a captured terminal file and renders it as
// HTML. Lines starting with # are capture metadata and are dropped.
func ConvertANSIToTerminalHTML(ansiPath string) (template.HTML, error) {
	ansiBytes, err := os.ReadFile(ansiPath)
	if err != nil {
		return "", fmt.Errorf("failed to read ANSI file: %w", err)
	}
	return TerminalHTML(extractANSIContent(string(ansiBytes))), nil
}

// TerminalHTML renders terminal text with SGR colors as HTML.
func TerminalHTML(ansiText string) template.HTML {
	if strings.TrimSpace(ansiText) == "" {
		return template.HTML(`<div style="color: #666;">No terminal output at this point</div>`)
	}
	return template.HTML(convertANSIToHTML(ansiText))
}

// convertANSIToHTML converts ANSI escape sequences to HTML spans using a
// small state machine. Non-SGR sequences (cursor movement, clears) are dropped.
func convertANSIToHTML(ansiText string) string {
	var result strings.Builder
	open := 0
	i := 0

	for i < len(ansiText) {
		char := ansiText[i]

		switch {
		case char == '\r':
			i++
		case char == '\n':
			result.WriteString("<br>")
			i++
		case char == '\x1b' && i+1 < len(ansiText) && ansiText[i+1] == '[':
			i += 2
			start := i
			for i < len(ansiText) && !isFinalByte(ansiText[i]) {
				i++
			}
			if i >= len(ansiText) {
				break
			}
			params, final := ansiText[start:i], ansiText[i]
			i++
			if final != 'm' {
				continue
			}
			if isReset(params) {
				result.WriteString(strings.Repeat("</span>", open))
				open = 0
				continue
			}
			if style := sgrStyle(params); style != "" {
				result.WriteString(`<span style="` + style + `">`)
				open++
			}
		case char == '&':
			result.WriteString("&amp;")
			i++
		case char == '<':
			result.WriteString("&lt;")
			i++
		case char == '>':
			result.WriteString("&gt;")
			i++
		default:
			result.WriteByte(char)
			i++
		}
	}

	result.WriteString(strings.Repeat("</span>", open))
	return result.String()
}

func isFinalByte(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isReset(params string) bool {
	return params == "" || params == "0" || params == "00"
}

// sgrStyle turns SGR parameters into inline CSS. Declarations are emitted in
// a fixed order: color, background, weight, style, decoration.
func sgrStyle(params string) string {
	var fg, bg string
	var bold, italic, underline bool

	codes := strings.Split(params, ";")
	for k := 0; k < len(codes); k++ {
		n, err := strconv.Atoi(codes[k])
		if err != nil {
			continue
		}
		switch {
		case n == 1:
			bold = true
		case n == 3:
			italic = true
		case n == 4:
			underline = true
		case n >= 30 && n <= 37:
			fg = paletteColor(n - 30)
		case n >= 90 && n <= 97:
			fg = paletteColor(n - 90 + 8)
		case n >= 40 && n <= 47:
			bg = paletteColor(n - 40)
		case n >= 100 && n <= 107:
			bg = paletteColor(n - 100 + 8)
		case n == 38 || n == 48:
			c, used := extendedColor(codes[k+1:])
			k += used
			if c == "" {
				continue
			}
			if n == 38 {
				fg = c
			} else {
				bg = c
			}
		}
	}

	var decl []string
	if fg != "" {
		decl = append(decl, "color: "+fg+";")
	}
	if bg != "" {
		decl = append(decl, "background: "+bg+";")
	}
	if bold {
		decl = append(decl, "font-weight: bold;")
	}
	if italic {
		decl = append(decl, "font-style: italic;")
	}
	if underline {
		decl = append(decl, "text-decoration: underline;")
	}
	return strings.Join(decl, " ")
}

// extendedColor reads "5;n" or "2;r;g;b" and reports how many codes it used.
func extendedColor(codes []string) (string, int) {
	if len(codes) == 0 {
		return "", 0
	}
	switch codes[0] {
	case "5":
		if len(codes) < 2 {
			return "", 1
		}
		n, err := strconv.Atoi(codes[1])
		if err != nil || n < 0 || n > 255 {
			return "", 2
		}
		return paletteColor(n), 2
	case "2":
		if len(codes) < 4 {
			return "", len(codes)
		}
		var rgb [3]int
		for j := range rgb {
			v, err := strconv.Atoi(codes[1+j])
			if err != nil || v < 0 || v > 255 {
				return "", 4
			}
			rgb[j] = v
		}
		return fmt.Sprintf("#%02x%02x%02x", rgb[0], rgb[1], rgb[2]), 4
	}
	return "", 1
}

// Terminal theme colors for the palette entries TUIs use most.
var themeColors = map[int]string{
	39:  "#58a6ff",
	78:  "#3fb950",
	240: "#7d8590",
	244: "#6e7681",
	246: "#8b949e",
	255: "#ffffff",
}

var basicColors = [16]string{
	"#000000", "#cd3131", "#0dbc79", "#e5e510", "#2472c8", "#bc3fbc", "#11a8cd", "#e5e5e5",
	"#666666", "#f14c4c", "#23d18b", "#f5f543", "#3b8eea", "#d670d6", "#29b8db", "#ffffff",
}

// paletteColor maps an xterm 256-color index to a hex color.
func paletteColor(n int) string {
	if c, ok := themeColors[n]; ok {
		return c
	}
	switch {
	case n < 16:
		return basicColors[n]
	case n < 232:
		levels := [6]int{0, 95, 135, 175, 215, 255}
		n -= 16
		return fmt.Sprintf("#%02x%02x%02x", levels[n/36], levels[(n/6)%6], levels[n%6])
	default:
		g := 8 + 10*(n-232)
		return fmt.Sprintf("#%02x%02x%02x", g, g, g)
	}
}

// escapeForHTML escapes ANSI content for embedding in an HTML data
// attribute. Control characters are kept so a client side terminal can
// replay them.
func escapeForHTML(content string) string {
	content = strings.ReplaceAll(content, "&", "&amp;") // must be first
	content = strings.ReplaceAll(content, "\"", "&#34;")
	content = strings.ReplaceAll(content, "'", "&#39;")
	content = strings.ReplaceAll(content, "<", "&lt;")
	content = strings.ReplaceAll(content, ">", "&gt;")
	content = strings.ReplaceAll(content, "\n", `\n`)
	content = strings.ReplaceAll(content, "\r", `\r`)
	return content
}

// extractANSIContent drops # metadata lines and trims the result. Blank
// lines inside the content are kept.
func extractANSIContent(content string) string {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
