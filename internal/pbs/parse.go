package pbs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rescale/simwatch/internal/models"
)

// Script holds the resource request found in a submission script.
type Script struct {
	Name       string
	Walltime   string
	Queue      string
	NMachines  int
	NCPUs      int
	MPIProcs   int
	OMPThreads int
	TotalNCPUs int
	Memory     string
	Infiniband bool

	// HasQueue is set when a "#PBS -q" line was found.
	HasQueue bool
	// HasResources is set when a usable select (or mppwidth) line was found.
	HasResources bool
}

// Parser extracts resource requests from PBS scripts.
type Parser struct {
	patterns map[string]*regexp.Regexp
}

// NewParser creates a PBS script parser.
func NewParser() *Parser {
	return &Parser{
		patterns: map[string]*regexp.Regexp{
			"nmachines":  regexp.MustCompile(`select=(\d+)`),
			"ncpus":      regexp.MustCompile(`ncpus=(\d+)`),
			"mpiprocs":   regexp.MustCompile(`mpiprocs=(\d+)`),
			"ompthreads": regexp.MustCompile(`ompthreads=(\d+)`),
			"mem":        regexp.MustCompile(`mem=([^:#\s]+)`),
			"icib":       regexp.MustCompile(`icib=([^:#\s]+)`),
			"mppwidth":   regexp.MustCompile(`mppwidth=(\d+)`),
			"mppnppn":    regexp.MustCompile(`mppnppn=(\d+)`),
		},
	}
}

// ParseFile parses the script at path.
func (p *Parser) ParseFile(path string, flavor Flavor) (*Script, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer file.Close()
	return p.Parse(file, flavor)
}

// Parse reads a script and extracts its resource request.
func (p *Parser) Parse(r io.Reader, flavor Flavor) (*Script, error) {
	s := &Script{OMPThreads: 1}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.Contains(line, "#PBS -N"):
			fields := strings.Fields(line)
			s.Name = fields[len(fields)-1]
		case strings.Contains(line, "#PBS -l walltime="):
			v := strings.SplitN(line, "#PBS -l walltime=", 2)[1]
			s.Walltime = strings.TrimSpace(strings.SplitN(v, "#", 2)[0])
		case strings.HasPrefix(line, "#PBS -q"):
			v := strings.TrimPrefix(line, "#PBS -q")
			s.Queue = strings.TrimSpace(strings.SplitN(v, "#", 2)[0])
			s.HasQueue = true
		case flavor.ICT() && strings.Contains(line, "#PBS -l select") && strings.Contains(line, "ncpus"):
			if err := p.parseSelect(line, s); err != nil {
				return nil, fmt.Errorf("invalid select directive at line %d: %w", lineNum, err)
			}
		case flavor == FlavorHector && strings.Contains(line, "#PBS -l mppwidth"):
			n, err := p.intValue("mppwidth", line)
			if err != nil {
				return nil, fmt.Errorf("invalid mppwidth at line %d: %w", lineNum, err)
			}
			s.TotalNCPUs = n
			s.HasResources = true
		case flavor == FlavorHector && strings.Contains(line, "#PBS -l mppnppn"):
			n, err := p.intValue("mppnppn", line)
			if err != nil {
				return nil, fmt.Errorf("invalid mppnppn at line %d: %w", lineNum, err)
			}
			s.NCPUs = n
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading script: %w", err)
	}

	if flavor == FlavorHector {
		s.Memory = "NAN"
		if s.NCPUs > 0 {
			s.NMachines = roundDiv(s.TotalNCPUs, s.NCPUs)
			s.MPIProcs = s.NCPUs
		}
	}
	return s, nil
}

func (p *Parser) parseSelect(line string, s *Script) error {
	var err error
	if s.NMachines, err = p.intValue("nmachines", line); err != nil {
		return err
	}
	if s.NCPUs, err = p.intValue("ncpus", line); err != nil {
		return err
	}
	s.MPIProcs = s.NCPUs
	if p.patterns["mpiprocs"].MatchString(line) {
		if s.MPIProcs, err = p.intValue("mpiprocs", line); err != nil {
			return err
		}
	}
	s.OMPThreads = 1
	if p.patterns["ompthreads"].MatchString(line) {
		if s.OMPThreads, err = p.intValue("ompthreads", line); err != nil {
			return err
		}
	}
	if m := p.patterns["mem"].FindStringSubmatch(line); m != nil {
		s.Memory = m[1]
	}
	if m := p.patterns["icib"].FindStringSubmatch(line); m != nil {
		s.Infiniband = strings.EqualFold(m[1], "true")
	}
	s.TotalNCPUs = s.NMachines * s.perNode()
	s.HasResources = true
	return nil
}

func (p *Parser) intValue(key, line string) (int, error) {
	m := p.patterns[key].FindStringSubmatch(line)
	if m == nil {
		return 0, fmt.Errorf("%s not found", key)
	}
	return strconv.Atoi(m[1])
}

func (s *Script) perNode() int {
	if s.MPIProcs != 0 && s.MPIProcs != s.NCPUs {
		return s.MPIProcs
	}
	return s.NCPUs
}

// ApplyTo copies the resource request into rec. A queue already set on rec
// takes precedence over the script's queue.
func (s *Script) ApplyTo(rec *models.SimulationRecord) {
	if s.Walltime != "" {
		rec.PBSWalltime = s.Walltime
	}
	if s.HasResources {
		rec.NMachines = s.NMachines
		rec.NCPUs = s.NCPUs
		rec.TotalNCPUs = s.TotalNCPUs
		rec.MPIProcs = s.MPIProcs
		rec.OMPThreads = s.OMPThreads
		rec.Infiniband = s.Infiniband
		if s.Memory != "" {
			rec.Memory = s.Memory
		}
	}
	if rec.Queue == "" && s.HasQueue {
		rec.Queue = s.Queue
	}
}

func roundDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return int(float64(a)/float64(b) + 0.5)
}
