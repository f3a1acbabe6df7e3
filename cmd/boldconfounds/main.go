package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"boldconfounds/internal/logging"
	"boldconfounds/pkg/config"
	"boldconfounds/pkg/pipeline"
)

func main() {
	// Parse command line arguments
	boldFile := flag.String("bold", "", "4D BOLD image (.nii or .nii.gz)")
	motionFile := flag.String("motion", "", "MCFLIRT motion parameters (.par)")
	segFile := flag.String("aseg", "", "Tissue segmentation (.nii, .nii.gz, .mgz or .mgh)")
	tr := flag.Float64("tr", 0, "Repetition time in seconds (default: read from the BIDS sidecar)")
	sidecarFile := flag.String("sidecar", "", "BIDS JSON sidecar of the BOLD run (default: next to -bold)")
	outDir := flag.String("outdir", ".", "Output directory")
	outName := flag.String("outfile", "confounds", "Output file stem; .tsv and .json are appended")
	configPath := flag.String("config", "", "Configuration file (.yaml or .toml)")
	initConfig := flag.String("init-config", "", "Write a default configuration file to this path and exit")
	numCores := flag.Int("cores", 0, "Number of concurrent CompCor extractions (default: from config)")
	dilate := flag.Int("gm-dilate-iter", -1, "Gray matter dilation iterations (default: from config)")
	variance := flag.Float64("acompcor-variance", 0, "aCompCor cumulative variance threshold (default: from config)")
	nComp := flag.Int("acompcor-n", 0, "Fixed number of aCompCor components; overrides the variance threshold")
	tolerate := flag.Bool("tolerate-empty-masks", false, "Skip CompCor for empty tissue masks instead of failing")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *initConfig != "" {
		if err := config.CreateDefaultConfigFile(*initConfig); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *initConfig)
		return
	}

	// Validate inputs
	if *boldFile == "" || *motionFile == "" || *segFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}

	// Command line flags override the file
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if *dilate >= 0 {
		cfg.Segmentation.DilateIterations = *dilate
	}
	if *variance > 0 {
		cfg.CompCor.VarianceThreshold = *variance
	}
	if *nComp > 0 {
		cfg.CompCor.NumComponents = *nComp
	}
	if *tolerate {
		cfg.Processing.TolerateEmptyMasks = true
	}
	if *verbose {
		cfg.Output.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.Output.Verbose {
		logging.SetLogMode(logging.DebugMode)
	}
	cfg.Logging.SetLogger()
	defer logging.Shutdown()

	fmt.Println("================================")
	fmt.Println("BOLD CONFOUND REGRESSORS")
	fmt.Println("Motion, tissue signals, FD, DVARS, CompCor and cosine drift")
	fmt.Println("================================")

	p := pipeline.NewPipeline(&pipeline.Params{
		BOLDFile:         *boldFile,
		MotionFile:       *motionFile,
		SegmentationFile: *segFile,
		SidecarFile:      *sidecarFile,
		RepetitionTime:   *tr,
		OutputDir:        *outDir,
		OutputName:       *outName,
		Config:           cfg,
	})

	startTime := time.Now()
	out, err := p.Process()
	if err != nil {
		logging.Shutdown()
		log.Fatalf("Confound generation failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nCompleted in %.2f seconds\n", processingTime.Seconds())
	fmt.Printf("Confounds: %s (%d columns x %d frames)\n", out.TablePath, len(out.Table.Columns), out.Table.Frames)
	if out.MetadataPath != "" {
		fmt.Printf("Metadata:  %s\n", out.MetadataPath)
	}
	for _, path := range out.MaskPaths {
		fmt.Printf("Mask:      %s\n", path)
	}
	if skipped := out.Metadata.SkippedTissues; len(skipped) > 0 {
		fmt.Printf("Skipped empty tissue masks: %v\n", skipped)
	}
}
