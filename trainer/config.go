package trainer

import (
	"fmt"
	"time"

	"github.com/vortexml/traind/loss"
	"github.com/vortexml/traind/model"
	"github.com/vortexml/traind/optimizer"
	"github.com/vortexml/traind/pkg/cron"
	"github.com/vortexml/traind/reader"
)

// Config is the full training-run configuration. Every identifier is
// resolved against its closed registry during Validate; the step loop never
// sees an unresolved name.
type Config struct {
	LogLevel   string `env:"TRAIND_LOG_LEVEL"    envDefault:"info"`
	InstanceID string `env:"TRAIND_INSTANCE_ID"`
	RunName    string `env:"TRAIND_RUN_NAME"`

	TrainDir      string `env:"TRAIND_TRAIN_DIR"    envDefault:"/tmp/traind_model/"`
	DataPattern   string `env:"TRAIND_DATA_PATTERN"`
	StartNewModel bool   `env:"TRAIND_START_NEW_MODEL" envDefault:"false"`

	BatchSize  int    `env:"TRAIND_BATCH_SIZE"  envDefault:"1024"`
	NumEpochs  int    `env:"TRAIND_NUM_EPOCHS"  envDefault:"5"`
	MaxSteps   uint64 `env:"TRAIND_MAX_STEPS"   envDefault:"0"`
	NumReaders int    `env:"TRAIND_NUM_READERS" envDefault:"8"`

	Model       string `env:"TRAIND_MODEL"       envDefault:"logistic"`
	LabelLoss   string `env:"TRAIND_LABEL_LOSS"  envDefault:"cross-entropy"`
	Optimizer   string `env:"TRAIND_OPTIMIZER"   envDefault:"adam"`
	Reader      string `env:"TRAIND_READER"      envDefault:"aggregated"`
	Augmenter   string `env:"TRAIND_AUGMENTER"   envDefault:"default"`
	Transform   string `env:"TRAIND_TRANSFORM"   envDefault:"default"`
	NumFeatures int    `env:"TRAIND_NUM_FEATURES" envDefault:"1024"`
	NumClasses  int    `env:"TRAIND_NUM_CLASSES"  envDefault:"4716"`

	Multitask           bool    `env:"TRAIND_MULTITASK"            envDefault:"false"`
	DistillationMode    string  `env:"TRAIND_DISTILLATION_MODE"    envDefault:"off"`
	DistillationPercent float64 `env:"TRAIND_DISTILLATION_PERCENT" envDefault:"0"`

	BaseLearningRate          float64 `env:"TRAIND_BASE_LEARNING_RATE"           envDefault:"0.01"`
	LearningRateDecay         float64 `env:"TRAIND_LEARNING_RATE_DECAY"          envDefault:"0.95"`
	LearningRateDecayExamples float64 `env:"TRAIND_LEARNING_RATE_DECAY_EXAMPLES" envDefault:"4000000"`
	ClipGradientNorm          float64 `env:"TRAIND_CLIP_GRADIENT_NORM"           envDefault:"1.0"`
	RegularizationPenalty     float64 `env:"TRAIND_REGULARIZATION_PENALTY"       envDefault:"1"`
	L2Penalty                 float64 `env:"TRAIND_L2_PENALTY"                   envDefault:"0"`

	Dropout    bool    `env:"TRAIND_DROPOUT"     envDefault:"false"`
	KeepProb   float64 `env:"TRAIND_KEEP_PROB"   envDefault:"1.0"`
	NoiseLevel float64 `env:"TRAIND_NOISE_LEVEL" envDefault:"0"`
	Seed       int64   `env:"TRAIND_SEED"        envDefault:"0"`

	Reweight        bool   `env:"TRAIND_REWEIGHT"          envDefault:"false"`
	SampleVocabFile string `env:"TRAIND_SAMPLE_VOCAB_FILE"`
	SampleFreqFile  string `env:"TRAIND_SAMPLE_FREQ_FILE"`

	CheckpointInterval time.Duration `env:"TRAIND_CHECKPOINT_INTERVAL" envDefault:"15m"`
	SummaryInterval    time.Duration `env:"TRAIND_SUMMARY_INTERVAL"    envDefault:"2m"`
	MaxKeep            int           `env:"TRAIND_CHECKPOINT_MAX_KEEP" envDefault:"3"`
	KeepEvery          time.Duration `env:"TRAIND_CHECKPOINT_KEEP_EVERY" envDefault:"1h"`
	GCSchedule         string        `env:"TRAIND_GC_SCHEDULE"`

	GAPTopK int `env:"TRAIND_GAP_TOP_K" envDefault:"0"`

	ClusterConfig string `env:"TRAIND_CLUSTER_CONFIG"`
	ClusterFile   string `env:"TRAIND_CLUSTER_FILE"`
	StateDir      string `env:"TRAIND_STATE_DIR"`

	MQTTAddress string        `env:"TRAIND_MQTT_ADDRESS"`
	MQTTQoS     uint8         `env:"TRAIND_MQTT_QOS"     envDefault:"0"`
	MQTTTimeout time.Duration `env:"TRAIND_MQTT_TIMEOUT" envDefault:"30s"`
}

// Components is everything the step loop needs, resolved once at startup.
type Components struct {
	Model     model.Model
	Loss      loss.Loss
	BlendSpec loss.BlendSpec
	Optimizer optimizer.Optimizer
	Reader    reader.Reader
	Weights   *reader.SampleWeights
	GC        *cron.Schedule
}

// Build resolves all identifiers and validates every cross-field
// constraint. Any failure here is a pre-start configuration error; nothing
// is resolved lazily later.
func (cfg Config) Build() (Components, error) {
	var c Components

	lossFn, err := loss.New(cfg.LabelLoss)
	if err != nil {
		return Components{}, err
	}
	c.Loss = lossFn

	hasDistill, err := reader.HasDistilledLabels(cfg.Reader)
	if err != nil {
		return Components{}, err
	}

	c.BlendSpec = loss.BlendSpec{
		Multitask:    cfg.Multitask,
		Distillation: loss.DistillationMode(cfg.DistillationMode),
		BlendPercent: cfg.DistillationPercent,
	}
	if err := c.BlendSpec.Validate(hasDistill, model.SupportsMultitask(cfg.Model), lossFn); err != nil {
		return Components{}, err
	}

	c.Model, err = model.New(cfg.Model, model.Config{
		NumFeatures: cfg.NumFeatures,
		NumClasses:  cfg.NumClasses,
		Dropout:     cfg.Dropout,
		KeepProb:    cfg.KeepProb,
		L2Penalty:   cfg.L2Penalty,
		Seed:        cfg.Seed,
	})
	if err != nil {
		return Components{}, err
	}

	c.Optimizer, err = optimizer.New(cfg.Optimizer, optimizer.Config{
		BaseLearningRate:          cfg.BaseLearningRate,
		LearningRateDecay:         cfg.LearningRateDecay,
		LearningRateDecayExamples: cfg.LearningRateDecayExamples,
		BatchSize:                 cfg.BatchSize,
	})
	if err != nil {
		return Components{}, err
	}

	augmenter, err := reader.NewAugmenter(cfg.Augmenter, cfg.NoiseLevel, cfg.Seed)
	if err != nil {
		return Components{}, err
	}
	transform, err := reader.NewTransform(cfg.Transform)
	if err != nil {
		return Components{}, err
	}

	c.Reader, err = reader.NewPipeline(reader.Config{
		Variant:     cfg.Reader,
		Pattern:     cfg.DataPattern,
		BatchSize:   cfg.BatchSize,
		NumEpochs:   cfg.NumEpochs,
		NumReaders:  cfg.NumReaders,
		NumFeatures: cfg.NumFeatures,
		NumClasses:  cfg.NumClasses,
		Augmenter:   augmenter,
		Transform:   transform,
	})
	if err != nil {
		return Components{}, err
	}

	if cfg.Reweight {
		c.Weights, err = reader.LoadSampleWeights(cfg.SampleVocabFile, cfg.SampleFreqFile)
		if err != nil {
			return Components{}, err
		}
	}

	if cfg.GCSchedule != "" {
		c.GC, err = cron.Parse(cfg.GCSchedule)
		if err != nil {
			return Components{}, fmt.Errorf("bad gc schedule %q: %w", cfg.GCSchedule, err)
		}
	}

	return c, nil
}
