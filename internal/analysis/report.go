package analysis

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"gorm.io/gorm"

	"github.com/robertdcurrier/dive-bar/internal/store"
)

// Sections of the report
const (
	SectionEchoes   = "echoes"
	SectionPersonas = "personas"
	SectionTopics   = "topics"
	SectionSessions = "sessions"
	SectionRegens   = "regens"
	SectionAll      = "all"
)

// Sections lists every section name accepted by Build
var Sections = []string{SectionEchoes, SectionPersonas, SectionTopics, SectionSessions, SectionRegens, SectionAll}

const (
	tableRows   = 20
	recentRegen = 10
)

// Report holds whichever sections were requested
type Report struct {
	Section    string
	Echoes     []Echo
	Openers    []Opener
	Duplicates []Duplicate
	Personas   []store.PersonaStat
	TopWords   []WordCount
	Stale      []Stretch
	Vocabulary Vocabulary
	Sessions   []store.SessionSummary
	Regens     RegenStats
}

func (r Report) wants(section string) bool {
	return r.Section == SectionAll || r.Section == section
}

// Build queries the database and computes the requested section. prefix
// limits the report to sessions whose id starts with it.
func Build(ctx context.Context, db *gorm.DB, section, prefix string) (Report, error) {
	if !slices.Contains(Sections, section) {
		return Report{}, fmt.Errorf("unknown report section %q (want one of %s)", section, strings.Join(Sections, ", "))
	}
	r := Report{Section: section}

	if r.wants(SectionEchoes) || r.wants(SectionTopics) {
		msgs, err := store.Messages(ctx, db, prefix)
		if err != nil {
			return Report{}, err
		}
		if r.wants(SectionEchoes) {
			r.Echoes = Echoes(msgs)
			r.Openers = Openers(msgs)
			r.Duplicates = Duplicates(msgs)
		}
		if r.wants(SectionTopics) {
			r.TopWords = TopWords(msgs, TopWordCount)
			r.Stale = StaleStretches(msgs)
			r.Vocabulary = VocabularyOf(msgs)
		}
	}
	if r.wants(SectionPersonas) {
		stats, err := store.PersonaStats(ctx, db, prefix)
		if err != nil {
			return Report{}, err
		}
		r.Personas = stats
	}
	if r.wants(SectionSessions) {
		sessions, err := store.SessionSummaries(ctx, db)
		if err != nil {
			return Report{}, err
		}
		r.Sessions = sessions
	}
	if r.wants(SectionRegens) {
		regens, err := store.Regenerations(ctx, db, prefix)
		if err != nil {
			return Report{}, err
		}
		r.Regens = Regens(regens, recentRegen)
	}
	return r, nil
}

// Renderer prints reports as plain aligned tables
type Renderer struct {
	out     io.Writer
	heading *color.Color
	good    *color.Color
	dim     *color.Color
}

// NewRenderer creates a renderer. noColor disables ANSI colors.
func NewRenderer(out io.Writer, noColor bool) *Renderer {
	r := &Renderer{
		out:     out,
		heading: color.New(color.Bold, color.FgCyan),
		good:    color.New(color.FgGreen),
		dim:     color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{r.heading, r.good, r.dim} {
			c.DisableColor()
		}
	}
	return r
}

// Render writes every section present in the report
func (r *Renderer) Render(rep Report) {
	if rep.wants(SectionEchoes) {
		r.echoes(rep)
	}
	if rep.wants(SectionPersonas) {
		r.personas(rep.Personas)
	}
	if rep.wants(SectionTopics) {
		r.topics(rep)
	}
	if rep.wants(SectionSessions) {
		r.sessions(rep.Sessions)
	}
	if rep.wants(SectionRegens) {
		r.regens(rep.Regens)
	}
}

func (r *Renderer) title(s string) {
	r.heading.Fprintf(r.out, "\n== %s ==\n", s)
}

func (r *Renderer) table(header string, rows [][]string) {
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	for i, row := range rows {
		if i == tableRows {
			break
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

func (r *Renderer) echoes(rep Report) {
	r.title("Echo Detection")
	if len(rep.Echoes) == 0 {
		r.good.Fprintln(r.out, "No cross-persona echoes.")
	} else {
		rows := make([][]string, len(rep.Echoes))
		for i, e := range rep.Echoes {
			rows[i] = []string{e.Phrase, fmt.Sprint(e.Count), strings.Join(e.Personas, ", ")}
		}
		r.table("PHRASE\tCOUNT\tPERSONAS", rows)
	}

	if len(rep.Openers) == 0 {
		r.good.Fprintln(r.out, "No repeated openers.")
	} else {
		rows := make([][]string, len(rep.Openers))
		for i, o := range rep.Openers {
			rows[i] = []string{o.Persona, o.Opener, fmt.Sprint(o.Count)}
		}
		r.table("PERSONA\tOPENER\tCOUNT", rows)
	}

	if len(rep.Duplicates) == 0 {
		r.good.Fprintln(r.out, "No exact duplicates.")
	} else {
		rows := make([][]string, len(rep.Duplicates))
		for i, d := range rep.Duplicates {
			rows[i] = []string{d.Text, fmt.Sprint(d.Count), strings.Join(d.Personas, ", ")}
		}
		r.table("TEXT\tCOUNT\tSPEAKERS", rows)
	}
}

func (r *Renderer) personas(stats []store.PersonaStat) {
	r.title("Persona Statistics")
	if len(stats) == 0 {
		r.dim.Fprintln(r.out, "No messages found.")
		return
	}
	rows := make([][]string, len(stats))
	for i, s := range stats {
		rows[i] = []string{
			s.Speaker,
			fmt.Sprint(s.Messages),
			fmt.Sprintf("%.1f", s.AvgTokens),
			fmt.Sprintf("%.0f", s.AvgGenerationMS),
			fmt.Sprintf("%.0f", s.AvgChars),
		}
	}
	r.table("PERSONA\tMESSAGES\tAVG TOKENS\tAVG GEN MS\tAVG CHARS", rows)
}

func (r *Renderer) topics(rep Report) {
	r.title("Topic Analysis")
	v := rep.Vocabulary
	fmt.Fprintf(r.out, "Vocabulary: %d unique / %d total (ratio: %.4f)\n", v.UniqueWords, v.TotalWords, v.Ratio)
	if len(rep.TopWords) > 0 {
		rows := make([][]string, len(rep.TopWords))
		for i, w := range rep.TopWords {
			rows[i] = []string{w.Word, fmt.Sprint(w.Count)}
		}
		r.table("WORD\tCOUNT", rows)
	}
	if len(rep.Stale) > 0 {
		rows := make([][]string, len(rep.Stale))
		for i, s := range rep.Stale {
			rows[i] = []string{fmt.Sprintf("%d-%d", s.StartSeq, s.EndSeq), s.Word, fmt.Sprint(s.Count)}
		}
		r.table("TURNS\tWORD\tCOUNT", rows)
	}
}

func (r *Renderer) sessions(sessions []store.SessionSummary) {
	r.title("Sessions")
	if len(sessions) == 0 {
		r.dim.Fprintln(r.out, "No sessions found.")
		return
	}
	rows := make([][]string, len(sessions))
	for i, s := range sessions {
		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		rows[i] = []string{
			id,
			s.StartedAt.Format("2006-01-02 15:04:05"),
			s.BarName,
			fmt.Sprint(s.AgentCount),
			fmt.Sprint(s.Messages),
		}
	}
	r.table("ID\tSTARTED\tBAR\tAGENTS\tMESSAGES", rows)
}

func (r *Renderer) regens(stats RegenStats) {
	r.title("Regenerations")
	if stats.Total == 0 {
		r.good.Fprintln(r.out, "No regenerations recorded.")
		return
	}
	fmt.Fprintf(r.out, "Total: %d regens, avg %.2f attempts each\n", stats.Total, stats.AvgAttempts)

	type row struct {
		persona string
		count   int
	}
	var byPersona []row
	for p, c := range stats.ByPersona {
		byPersona = append(byPersona, row{p, c})
	}
	slices.SortFunc(byPersona, func(a, b row) int {
		return cmp.Or(cmp.Compare(b.count, a.count), cmp.Compare(a.persona, b.persona))
	})
	rows := make([][]string, len(byPersona))
	for i, p := range byPersona {
		rows[i] = []string{p.persona, fmt.Sprint(p.count)}
	}
	r.table("PERSONA\tREGENS", rows)

	recent := make([][]string, len(stats.Recent))
	for i, e := range stats.Recent {
		recent[i] = []string{fmt.Sprint(e.Seq), e.Persona, fmt.Sprint(e.Attempts)}
	}
	r.table("TURN\tPERSONA\tATTEMPTS", recent)
}
