// Package pipeline runs the confound generation for one functional run:
// load inputs, build tissue masks, compute every regressor family and write
// the assembled table.
package pipeline

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"boldconfounds/internal/logging"
	"boldconfounds/internal/models"
	"boldconfounds/pkg/compcor"
	"boldconfounds/pkg/config"
	"boldconfounds/pkg/confounds"
	"boldconfounds/pkg/drift"
	"boldconfounds/pkg/motion"
	"boldconfounds/pkg/quality"
	"boldconfounds/pkg/segmentation"
	"boldconfounds/pkg/sidecar"
	"boldconfounds/pkg/signal"
	"boldconfounds/pkg/volumeio"
)

// header and supplied repetition times further apart than this are reported
const trTolerance = 1e-3

// Params holds the inputs and outputs of one run.
type Params struct {
	// BOLDFile is the 4D functional image (.nii or .nii.gz)
	BOLDFile string

	// MotionFile holds one row of six MCFLIRT parameters per frame
	MotionFile string

	// SegmentationFile is the anatomical label volume (NIfTI or MGH/MGZ)
	SegmentationFile string

	// SidecarFile is the BIDS JSON of the BOLD run. Read when
	// RepetitionTime is 0; defaults to the file next to BOLDFile.
	SidecarFile string

	// RepetitionTime in seconds; 0 takes it from the sidecar
	RepetitionTime float64

	// OutputDir receives the table, its metadata and the masks
	OutputDir string

	// OutputName is the file stem of the table, "confounds" by default
	OutputName string

	// Config carries the processing settings; nil uses the defaults
	Config *config.Config

	// Estimator computes FD and DVARS; nil uses the native estimator
	// configured from Config
	Estimator quality.Estimator
}

// Inputs are the loaded data of one run.
type Inputs struct {
	BOLD           *models.Volume4D
	Motion         *models.MotionTrace
	Segmentation   *models.LabelVolume
	RepetitionTime float64
}

// Output is what a run produces in memory.
type Output struct {
	Table    *confounds.Table
	Metadata *sidecar.Metadata
	Masks    *segmentation.Masks

	// paths written by Process
	TablePath    string
	MetadataPath string
	MaskPaths    []string
}

// Pipeline drives one run. The loaded volumes are shared read-only by every step.
type Pipeline struct {
	params *Params
	cfg    *config.Config
	est    quality.Estimator
}

// NewPipeline creates a pipeline for the given parameters.
func NewPipeline(params *Params) *Pipeline {
	cfg := params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	est := params.Estimator
	if est == nil {
		est = &quality.Native{
			HeadRadius: cfg.Quality.HeadRadius,
			DVARS: quality.DVARSOptions{
				IntensityNormalization: cfg.Quality.IntensityNormalization,
				VarianceTolerance:      cfg.Quality.VarianceTolerance,
			},
		}
	}
	return &Pipeline{params: params, cfg: cfg, est: est}
}

// Process loads the inputs, computes the confounds and writes the outputs.
// Nothing is written unless every regressor was computed.
func (p *Pipeline) Process() (*Output, error) {
	tlog := logging.NewTimeLog()

	logging.Infof("Step 1: Loading inputs...\n")
	in, err := p.load()
	if err != nil {
		return nil, err
	}

	out, err := p.Compute(in)
	if err != nil {
		return nil, err
	}

	logging.Infof("Step 8: Writing outputs to %s...\n", p.params.OutputDir)
	if err := p.write(out); err != nil {
		return nil, err
	}
	tlog.Infof("Wrote %d confound columns for %d frames", len(out.Table.Columns), out.Table.Frames)
	return out, nil
}

func (p *Pipeline) load() (*Inputs, error) {
	bold, err := volumeio.LoadVolume4D(p.params.BOLDFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load BOLD volume: %w", err)
	}
	trace, err := motion.LoadFile(p.params.MotionFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load motion parameters: %w", err)
	}
	labels, err := volumeio.LoadLabels(p.params.SegmentationFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load segmentation: %w", err)
	}
	tr, err := p.resolveTR(bold)
	if err != nil {
		return nil, err
	}
	return &Inputs{BOLD: bold, Motion: trace, Segmentation: labels, RepetitionTime: tr}, nil
}

// resolveTR takes the repetition time from the parameters or the sidecar,
// never from the image header alone.
func (p *Pipeline) resolveTR(bold *models.Volume4D) (float64, error) {
	tr := p.params.RepetitionTime
	if tr == 0 {
		path := p.params.SidecarFile
		if path == "" {
			path = sidecar.PathFor(p.params.BOLDFile)
		}
		meta, err := sidecar.ReadBOLDFile(path)
		if err != nil {
			return 0, fmt.Errorf("no repetition time given and none read from sidecar: %w", err)
		}
		tr = meta.RepetitionTime
		logging.Debugf("Repetition time %gs from %s\n", tr, path)
	}
	if tr <= 0 || math.IsNaN(tr) {
		return 0, &models.MissingMetadataError{Field: "repetition time"}
	}
	if bold.HeaderTR > 0 && math.Abs(bold.HeaderTR-tr) > trTolerance {
		logging.Warningf("Image header repetition time %gs differs from the supplied %gs; using %gs\n",
			bold.HeaderTR, tr, tr)
	}
	return tr, nil
}

// Compute derives every regressor family from loaded inputs and assembles
// the table. It writes nothing.
func (p *Pipeline) Compute(in *Inputs) (*Output, error) {
	if in.BOLD == nil || in.Motion == nil || in.Segmentation == nil {
		return nil, fmt.Errorf("BOLD volume, motion parameters and segmentation are all required")
	}
	if in.RepetitionTime <= 0 || math.IsNaN(in.RepetitionTime) {
		return nil, &models.MissingMetadataError{Field: "repetition time"}
	}
	frames := in.BOLD.Frames
	if err := in.Motion.CheckFrames(frames); err != nil {
		return nil, err
	}

	asm := confounds.NewAssembler(frames)
	meta := sidecar.NewMetadata(in.RepetitionTime, frames)
	meta.QualityEstimator = p.est.Version().String()
	meta.Inputs["bold"] = p.params.BOLDFile
	meta.Inputs["motion"] = p.params.MotionFile
	meta.Inputs["segmentation"] = p.params.SegmentationFile

	logging.Infof("Step 2: Building tissue masks...\n")
	masks, err := segmentation.Build(in.Segmentation, in.BOLD, p.cfg.Segmentation.Labels, p.cfg.Segmentation.DilateIterations)
	if err != nil {
		return nil, fmt.Errorf("failed to build tissue masks: %w", err)
	}
	if !p.cfg.Processing.TolerateEmptyMasks {
		if err := emptyTissueMasks(masks); err != nil {
			return nil, fmt.Errorf("failed to build tissue masks: %w", err)
		}
	}

	logging.Infof("Step 3: Expanding motion parameters...\n")
	if err := asm.Add("motion", confounds.FromSeries(motion.Expand(in.Motion))...); err != nil {
		return nil, err
	}

	logging.Infof("Step 4: Extracting mean tissue signals...\n")
	var base []motion.Series
	for i, mask := range []*models.Mask{masks.Brain, masks.WhiteMatter, masks.CSF} {
		mean, err := signal.MeanSeries(in.BOLD, mask)
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s signal: %w", confounds.SignalNames[i], err)
		}
		if mask.Count() == 0 {
			logging.Warningf("The %s mask is empty; %s is missing in every frame\n", mask.Name, confounds.SignalNames[i])
		}
		base = append(base, motion.Series{Name: confounds.SignalNames[i], Values: mean})
	}
	if err := asm.Add("signals", confounds.FromSeries(motion.ExpandSeries(base))...); err != nil {
		return nil, err
	}

	logging.Infof("Step 5: Estimating framewise displacement and DVARS (estimator %s)...\n", p.est.Version())
	qr, err := quality.Run(p.est, quality.Input{
		Motion:         in.Motion,
		BOLD:           in.BOLD,
		BrainMask:      masks.Brain,
		RepetitionTime: in.RepetitionTime,
		AllowEmptyMask: p.cfg.Processing.TolerateEmptyMasks,
	})
	if err != nil {
		return nil, fmt.Errorf("quality estimation failed: %w", err)
	}
	if err := asm.Add("quality",
		confounds.Column{Name: confounds.FramewiseDisplacement, Values: qr.FramewiseDisplacement},
		confounds.Column{Name: confounds.DVARS, Values: qr.DVARS},
		confounds.Column{Name: confounds.StdDVARS, Values: qr.StdDVARS},
	); err != nil {
		return nil, err
	}

	logging.Infof("Step 6: Extracting CompCor components...\n")
	results, skipped, err := p.compCor(in, masks)
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		cols := make([]confounds.Column, len(res.Names))
		for i := range res.Names {
			cols[i] = confounds.Column{Name: res.Names[i], Values: res.Columns[i]}
		}
		if err := asm.Add(res.Prefix, cols...); err != nil {
			return nil, err
		}
		meta.AddComponents(res)
	}
	meta.SkippedTissues = skipped

	logging.Infof("Step 7: Building drift basis...\n")
	basis, err := drift.NewBasis(frames, in.RepetitionTime, p.cfg.Drift.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to build drift basis: %w", err)
	}
	for i := range basis.Columns {
		if err := asm.Add("drift", confounds.Column{Name: basis.Names[i], Values: basis.Columns[i]}); err != nil {
			return nil, err
		}
	}
	meta.Drift.CutoffSeconds = p.cfg.Drift.Cutoff
	meta.Drift.Columns = append([]string{}, basis.Names...)

	if o := p.cfg.Outliers; o.Enabled {
		spikes := quality.Outliers(qr.FramewiseDisplacement, qr.StdDVARS, o.FDThreshold, o.DVARSThreshold)
		for i, frame := range spikes {
			col := make([]float64, frames)
			col[frame] = 1
			if err := asm.Add("outliers", confounds.Column{Name: fmt.Sprintf("motion_outlier_%02d", i), Values: col}); err != nil {
				return nil, err
			}
		}
		meta.Outliers = &sidecar.OutlierMeta{FDThreshold: o.FDThreshold, DVARSThreshold: o.DVARSThreshold, Frames: spikes}
		if meta.Outliers.Frames == nil {
			meta.Outliers.Frames = []int{}
		}
		logging.Infof("Flagged %d outlier frame(s)\n", len(spikes))
	}

	return &Output{Table: asm.Table(), Metadata: meta, Masks: masks}, nil
}

// emptyTissueMasks reports every anatomical CompCor mask that selects no
// voxels, named the way compcor.Extract names them.
func emptyTissueMasks(masks *segmentation.Masks) error {
	var errs []error
	for _, m := range []struct {
		mask   *models.Mask
		prefix string
	}{
		{masks.WhiteMatter, compcor.PrefixWhiteMatter},
		{masks.CSF, compcor.PrefixCSF},
		{masks.Combined, compcor.PrefixCombined},
	} {
		if m.mask.Count() == 0 {
			errs = append(errs, &models.EmptyMaskError{Mask: fmt.Sprintf("%s (for %s)", m.mask.Name, m.prefix)})
		}
	}
	return errors.Join(errs...)
}

type compCorTask struct {
	mask *models.Mask
	opts compcor.Options

	// temporal tasks select their mask from the brain mask first
	temporal bool
}

// compCor runs the independent extractions concurrently. Results come back in
// task order. An empty mask fails the run unless empty masks are tolerated,
// in which case that tissue is reported as skipped.
func (p *Pipeline) compCor(in *Inputs, masks *segmentation.Masks) ([]*compcor.Result, []string, error) {
	cc := p.cfg.CompCor
	anat := func(prefix string) compcor.Options {
		return compcor.Options{
			RepetitionTime:    in.RepetitionTime,
			HighPassCutoff:    cc.HighPassCutoff,
			VarianceThreshold: cc.VarianceThreshold,
			NumComponents:     cc.NumComponents,
			Prefix:            prefix,
		}
	}
	tasks := []compCorTask{
		{mask: masks.WhiteMatter, opts: anat(compcor.PrefixWhiteMatter)},
		{mask: masks.CSF, opts: anat(compcor.PrefixCSF)},
		{mask: masks.Combined, opts: anat(compcor.PrefixCombined)},
	}
	if cc.TCompCor.Enabled {
		tasks = append(tasks, compCorTask{
			mask:     masks.Brain,
			temporal: true,
			opts: compcor.Options{
				RepetitionTime: in.RepetitionTime,
				HighPassCutoff: cc.HighPassCutoff,
				NumComponents:  cc.TCompCor.NumComponents,
				Prefix:         compcor.PrefixTemporal,
			},
		})
	}

	results := make([]*compcor.Result, len(tasks))
	var (
		mu      sync.Mutex
		skipped []string
	)
	var g errgroup.Group
	g.SetLimit(max(p.cfg.Processing.NumCores, 1))
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			tlog := logging.NewTimeLog()
			mask := task.mask
			var err error
			if task.temporal {
				mask, err = compcor.TemporalMask(in.BOLD, mask, cc.TCompCor.Percentile, task.opts.RepetitionTime, task.opts.HighPassCutoff)
			}
			var res *compcor.Result
			if err == nil {
				res, err = compcor.Extract(in.BOLD, mask, task.opts)
			}
			if err != nil {
				if p.cfg.Processing.TolerateEmptyMasks && errors.Is(err, models.ErrEmptyMask) {
					logging.Warningf("Skipping %s columns: %v\n", task.opts.Prefix, err)
					mu.Lock()
					skipped = append(skipped, task.opts.Prefix)
					mu.Unlock()
					return nil
				}
				return fmt.Errorf("CompCor %s failed: %w", task.opts.Prefix, err)
			}
			results[i] = res
			tlog.Debugf("CompCor %s: %d component(s)", task.opts.Prefix, len(res.Columns))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var done []*compcor.Result
	for _, res := range results {
		if res != nil {
			done = append(done, res)
		}
	}
	// goroutines finish in any order
	var ordered []string
	for _, task := range tasks {
		for _, s := range skipped {
			if s == task.opts.Prefix {
				ordered = append(ordered, s)
			}
		}
	}
	return done, ordered, nil
}

func (p *Pipeline) write(out *Output) error {
	name := p.params.OutputName
	if name == "" {
		name = "confounds"
	}
	dir := p.params.OutputDir

	if p.cfg.Output.WriteMasks {
		paths, err := out.Masks.Save(filepath.Join(dir, "masks"))
		if err != nil {
			return err
		}
		out.MaskPaths = paths
	}
	if p.cfg.Output.WriteMetadata {
		out.MetadataPath = filepath.Join(dir, name+".json")
		if err := out.Metadata.WriteFile(out.MetadataPath); err != nil {
			return err
		}
	}
	// the table goes last so its presence marks a complete run
	out.TablePath = filepath.Join(dir, name+".tsv")
	if err := confounds.WriteFile(out.TablePath, out.Table); err != nil {
		return err
	}
	return nil
}
