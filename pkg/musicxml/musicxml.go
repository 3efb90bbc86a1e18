// Package musicxml decodes partwise MusicXML scores, plain or compressed
// (.mxl), and transforms them into a MIDI file and a measure timemap.
package musicxml

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

var (
	// ErrNoParts is returned for scores without any part.
	ErrNoParts = errors.New("score has no parts")
	// ErrInvalidScore is returned when the document is not a partwise score.
	ErrInvalidScore = errors.New("invalid MusicXML score")
)

// Score is a score-partwise document.
type Score struct {
	XMLName        xml.Name       `xml:"score-partwise"`
	Work           Work           `xml:"work"`
	MovementTitle  string         `xml:"movement-title"`
	Identification Identification `xml:"identification"`
	PartList       []ScorePart    `xml:"part-list>score-part"`
	Parts          []Part         `xml:"part"`
}

// Work holds the work title.
type Work struct {
	Title string `xml:"work-title"`
}

// Identification holds creators and encoding details.
type Identification struct {
	Creators []Creator `xml:"creator"`
	Rights   string    `xml:"rights"`
	Software string    `xml:"encoding>software"`
}

// Creator is a composer, lyricist, arranger...
type Creator struct {
	Type string `xml:"type,attr"`
	Name string `xml:",chardata"`
}

// ScorePart describes a part in the part list.
type ScorePart struct {
	ID              string           `xml:"id,attr"`
	Name            string           `xml:"part-name"`
	MIDIInstruments []MIDIInstrument `xml:"midi-instrument"`
}

// MIDIInstrument carries the 1-based MIDI channel and program of a part.
type MIDIInstrument struct {
	Channel int     `xml:"midi-channel"`
	Program int     `xml:"midi-program"`
	Volume  float64 `xml:"volume"`
}

// Part is the music of one score part.
type Part struct {
	ID       string    `xml:"id,attr"`
	Measures []Measure `xml:"measure"`
}

// Measure holds the timed contents of one measure in document order.
type Measure struct {
	Number   string
	Implicit bool
	Items    []Item
}

// Item is one timed element of a measure.
type Item interface {
	isItem()
}

// Attributes changes divisions or the time signature.
type Attributes struct {
	Divisions int  `xml:"divisions"`
	Time      Time `xml:"time"`
}

// Time is a time signature.
type Time struct {
	Beats    int `xml:"beats"`
	BeatType int `xml:"beat-type"`
}

// Sound carries playback hints. Tempo is in quarter notes per minute.
type Sound struct {
	Tempo    float64 `xml:"tempo,attr"`
	Dynamics float64 `xml:"dynamics,attr"`
}

// Backup moves the measure cursor back.
type Backup struct {
	Duration int `xml:"duration"`
}

// Forward moves the measure cursor forward.
type Forward struct {
	Duration int `xml:"duration"`
}

// Note is a pitched note, unpitched note or rest.
type Note struct {
	Pitch     *Pitch    `xml:"pitch"`
	Unpitched *struct{} `xml:"unpitched"`
	Rest      *struct{} `xml:"rest"`
	Chord     *struct{} `xml:"chord"`
	Grace     *struct{} `xml:"grace"`
	Duration  int       `xml:"duration"`
	Voice     string    `xml:"voice"`
	Type      string    `xml:"type"`
	Ties      []Tie     `xml:"tie"`
	Dynamics  float64   `xml:"dynamics,attr"`
}

// Tie marks the start or stop of a tie.
type Tie struct {
	Type string `xml:"type,attr"`
}

// Pitch is a written pitch.
type Pitch struct {
	Step   string  `xml:"step"`
	Alter  float64 `xml:"alter"`
	Octave int     `xml:"octave"`
}

func (Attributes) isItem() {}
func (Sound) isItem()      {}
func (Backup) isItem()     {}
func (Forward) isItem()    {}
func (Note) isItem()       {}

var steps = map[string]int{"C": 0, "D": 2, "E": 4, "F": 5, "G": 7, "A": 9, "B": 11}

// Key returns the MIDI key number of the pitch.
func (p Pitch) Key() int {
	return steps[strings.ToUpper(p.Step)] + (p.Octave+1)*12 + int(p.Alter)
}

// HasTie reports whether the note carries a tie of the given type.
func (n Note) HasTie(typ string) bool {
	for _, t := range n.Ties {
		if t.Type == typ {
			return true
		}
	}
	return false
}

// UnmarshalXML keeps the timed children of a measure in document order.
func (m *Measure) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "number":
			m.Number = attr.Value
		case "implicit":
			m.Implicit = attr.Value == "yes"
		}
	}

	for {
		token, err := d.Token()
		if err != nil {
			return err
		}
		switch t := token.(type) {
		case xml.EndElement:
			return nil
		case xml.StartElement:
			if err := m.decodeItem(d, t); err != nil {
				return err
			}
		}
	}
}

func (m *Measure) decodeItem(d *xml.Decoder, t xml.StartElement) error {
	var item Item
	switch t.Name.Local {
	case "attributes":
		var a Attributes
		if err := d.DecodeElement(&a, &t); err != nil {
			return err
		}
		item = a
	case "sound":
		var s Sound
		if err := d.DecodeElement(&s, &t); err != nil {
			return err
		}
		item = s
	case "direction":
		var dir struct {
			Sound *Sound `xml:"sound"`
		}
		if err := d.DecodeElement(&dir, &t); err != nil {
			return err
		}
		if dir.Sound == nil {
			return nil
		}
		item = *dir.Sound
	case "backup":
		var b Backup
		if err := d.DecodeElement(&b, &t); err != nil {
			return err
		}
		item = b
	case "forward":
		var f Forward
		if err := d.DecodeElement(&f, &t); err != nil {
			return err
		}
		item = f
	case "note":
		var n Note
		if err := d.DecodeElement(&n, &t); err != nil {
			return err
		}
		item = n
	default:
		return d.Skip()
	}
	m.Items = append(m.Items, item)
	return nil
}

// Title returns the work title, or the movement title.
func (s *Score) Title() string {
	if s.Work.Title != "" {
		return strings.TrimSpace(s.Work.Title)
	}
	return strings.TrimSpace(s.MovementTitle)
}

// Composer returns the first composer creator, or the first creator.
func (s *Score) Composer() string {
	for _, c := range s.Identification.Creators {
		if c.Type == "composer" {
			return strings.TrimSpace(c.Name)
		}
	}
	if len(s.Identification.Creators) > 0 {
		return strings.TrimSpace(s.Identification.Creators[0].Name)
	}
	return ""
}

// scorePart returns the part-list entry for a part id.
func (s *Score) scorePart(id string) (ScorePart, bool) {
	for _, sp := range s.PartList {
		if sp.ID == id {
			return sp, true
		}
	}
	return ScorePart{}, false
}

// Decode reads a score. Documents declaring an encoding are decoded with
// it; undeclared documents that are not valid UTF-8 are read as Shift_JIS.
// Compressed .mxl archives are detected by their zip signature.
func Decode(r io.Reader) (*Score, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read score: %w", err)
	}
	return DecodeBytes(data)
}

// DecodeString reads a score from markup.
func DecodeString(markup string) (*Score, error) {
	return DecodeBytes([]byte(markup))
}

// DecodeBytes reads a score from data.
func DecodeBytes(data []byte) (*Score, error) {
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		inner, err := extractMXL(data)
		if err != nil {
			return nil, err
		}
		data = inner
	}

	var src io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) && !declaresEncoding(data) {
		src = transform.NewReader(src, japanese.ShiftJIS.NewDecoder())
	}

	var s Score
	dec := xml.NewDecoder(src)
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScore, err)
	}
	if s.XMLName.Local != "score-partwise" {
		return nil, fmt.Errorf("%w: root element %q", ErrInvalidScore, s.XMLName.Local)
	}
	if len(s.Parts) == 0 {
		return nil, ErrNoParts
	}
	return &s, nil
}

// declaresEncoding reports whether the XML declaration names an encoding.
func declaresEncoding(data []byte) bool {
	head := data[:min(len(data), 200)]
	end := bytes.Index(head, []byte("?>"))
	if !bytes.HasPrefix(bytes.TrimLeft(head, "\xef\xbb\xbf \t\r\n"), []byte("<?xml")) || end < 0 {
		return false
	}
	return bytes.Contains(head[:end], []byte("encoding"))
}

type container struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// extractMXL returns the root score of a compressed MusicXML archive. The
// root is named by META-INF/container.xml; without it the first .xml file
// outside META-INF is used.
func extractMXL(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScore, err)
	}

	name := ""
	if c, err := readZipFile(zr, "META-INF/container.xml"); err == nil {
		var ct container
		if xml.Unmarshal(c, &ct) == nil && len(ct.Rootfiles) > 0 {
			name = ct.Rootfiles[0].FullPath
		}
	}
	if name == "" {
		for _, f := range zr.File {
			if !strings.HasPrefix(f.Name, "META-INF/") && strings.EqualFold(path.Ext(f.Name), ".xml") {
				name = f.Name
				break
			}
		}
	}
	if name == "" {
		return nil, fmt.Errorf("%w: no score in archive", ErrInvalidScore)
	}
	return readZipFile(zr, name)
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
