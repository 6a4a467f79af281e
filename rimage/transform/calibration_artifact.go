package transform

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// CalibrationArtifact is the on-disk form of a solved camera model.
type CalibrationArtifact struct {
	CalibrationID string      `json:"calibration_id"`
	CreatedAt     time.Time   `json:"created_at"`
	ImageWidth    int         `json:"image_width"`
	ImageHeight   int         `json:"image_height"`
	CameraMatrix  [][]float64 `json:"camera_matrix"`
	DistCoeffs    []float64   `json:"dist_coeffs"`
	RMSError      float64     `json:"rms_error"`
}

// CalibrationMetadata is bookkeeping stored next to the model. Zero values are filled in on save.
type CalibrationMetadata struct {
	CalibrationID string
	CreatedAt     time.Time
	RMSError      float64
}

// NewCalibrationArtifact converts a model into its serializable form.
func NewCalibrationArtifact(model *PinholeCameraModel, meta CalibrationMetadata) (*CalibrationArtifact, error) {
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	if meta.CalibrationID == "" {
		meta.CalibrationID = uuid.New().String()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	k := model.GetCameraMatrix()
	rows := make([][]float64, 3)
	for i := range rows {
		rows[i] = mat.Row(nil, i, k)
	}
	return &CalibrationArtifact{
		CalibrationID: meta.CalibrationID,
		CreatedAt:     meta.CreatedAt,
		ImageWidth:    model.Width,
		ImageHeight:   model.Height,
		CameraMatrix:  rows,
		DistCoeffs:    model.DistortionParameters(),
		RMSError:      meta.RMSError,
	}, nil
}

// Model validates the artifact and builds the camera model it describes.
func (a *CalibrationArtifact) Model() (*PinholeCameraModel, error) {
	if len(a.CameraMatrix) != 3 {
		return nil, errors.Errorf("camera_matrix must have 3 rows, got %d", len(a.CameraMatrix))
	}
	data := make([]float64, 0, 9)
	for i, row := range a.CameraMatrix {
		if len(row) != 3 {
			return nil, errors.Errorf("camera_matrix row %d must have 3 values, got %d", i, len(row))
		}
		data = append(data, row...)
	}
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("camera_matrix values must be finite")
		}
	}
	if len(a.DistCoeffs) != 5 {
		return nil, errors.Errorf("dist_coeffs must have 5 values, got %d", len(a.DistCoeffs))
	}
	intrinsics, err := NewPinholeCameraIntrinsicsFromCameraMatrix(mat.NewDense(3, 3, data), a.ImageWidth, a.ImageHeight)
	if err != nil {
		return nil, err
	}
	distortion, err := NewBrownConrady(a.DistCoeffs)
	if err != nil {
		return nil, err
	}
	model := NewPinholeCameraModel(intrinsics, distortion)
	return model, model.CheckValid()
}

// SaveCalibration writes the model and metadata as indented JSON.
func SaveCalibration(path string, model *PinholeCameraModel, meta CalibrationMetadata) (*CalibrationArtifact, error) {
	artifact, err := NewCalibrationArtifact(model, meta)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "error encoding calibration")
	}
	//nolint:gosec
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, errors.Wrapf(err, "error writing calibration to %q", path)
	}
	return artifact, nil
}

// LoadCalibration reads an artifact written by SaveCalibration.
func LoadCalibration(path string) (*PinholeCameraModel, *CalibrationArtifact, error) {
	//nolint:gosec
	jsonFile, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error opening calibration file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error reading calibration file")
	}
	artifact := &CalibrationArtifact{}
	if err := json.Unmarshal(byteValue, artifact); err != nil {
		return nil, nil, errors.Wrap(err, "error parsing calibration file")
	}
	model, err := artifact.Model()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "invalid calibration in %q", path)
	}
	return model, artifact, nil
}
