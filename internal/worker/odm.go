package worker

import (
	"runtime"
	"strconv"

	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
)

// projectName is the tool's project directory name under the work dir.
const projectName = "project"

type odmSettings struct {
	pcQuality      string
	featureQuality string
	fastOrthophoto bool
}

func settingsForQuality(quality string) odmSettings {
	switch quality {
	case domain.QualityLow:
		return odmSettings{pcQuality: "low", featureQuality: "low", fastOrthophoto: true}
	case domain.QualityHigh:
		return odmSettings{pcQuality: "high", featureQuality: "high"}
	}
	return odmSettings{pcQuality: "medium", featureQuality: "medium"}
}

// buildODMCommand assembles the OpenDroneMap invocation for the given
// options. The project name must stay the last positional argument.
func buildODMCommand(workDir string, opts domain.ProcessingOptions) []string {
	settings := settingsForQuality(opts.OrthoQuality)

	cmd := []string{
		"python3", "/code/run.py",
		"--project-path", workDir,
		"--max-concurrency", strconv.Itoa(concurrency()),
		"--pc-quality", settings.pcQuality,
		"--feature-quality", settings.featureQuality,
	}

	if settings.fastOrthophoto {
		cmd = append(cmd, "--fast-orthophoto", "--skip-3dmodel")
	} else {
		cmd = append(cmd, "--dsm")
		if opts.GenerateDTM {
			cmd = append(cmd, "--dtm")
		}
	}

	// Report generation trips a GDAL incompatibility in the ODM image.
	cmd = append(cmd, "--skip-report")

	if opts.Multispectral {
		cmd = append(cmd, "--radiometric-calibration", "camera", "--rolling-shutter")
	}

	cmd = append(cmd, projectName)
	return cmd
}

func concurrency() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 4
}
