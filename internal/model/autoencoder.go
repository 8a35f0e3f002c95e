// Package model defines the surrogate autoencoder trained on simulation fields.
package model

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// ModelType is the type tag written into saved checkpoints.
const ModelType = "surrogates4sims.Autoencoder"

// Config describes the autoencoder shape.
type Config struct {
	Channels int   // field channels C
	Height   int   // grid height H
	Width    int   // grid width W
	Hidden   []int // encoder hidden widths; the decoder mirrors them
	Latent   int   // latent code size
}

// InputDim returns C*H*W.
func (c Config) InputDim() int {
	return c.Channels * c.Height * c.Width
}

// Validate checks that every dimension is positive.
func (c Config) Validate() error {
	if c.Channels <= 0 || c.Height <= 0 || c.Width <= 0 {
		return fmt.Errorf("model: field shape [%d, %d, %d] must be positive", c.Channels, c.Height, c.Width)
	}
	if c.Latent <= 0 {
		return fmt.Errorf("model: latent size must be positive, got %d", c.Latent)
	}
	for i, h := range c.Hidden {
		if h <= 0 {
			return fmt.Errorf("model: hidden layer %d has width %d", i, h)
		}
	}
	return nil
}

// Autoencoder is a fully connected encoder/decoder over flattened fields.
//
//	x [n, C, H, W] -> flatten -> encoder -> z [n, Latent] -> decoder -> xHat [n, C, H, W]
//
// Hidden layers use ReLU; the latent and output layers are linear.
type Autoencoder[B tensor.Backend] struct {
	cfg     Config
	encoder []*nn.Linear[B]
	decoder []*nn.Linear[B]
	relu    *nn.ReLU[B]
}

// New builds an autoencoder with freshly initialized weights.
func New[B tensor.Backend](cfg Config, backend B) (*Autoencoder[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Hidden = append([]int(nil), cfg.Hidden...)

	widths := append([]int{cfg.InputDim()}, cfg.Hidden...)
	widths = append(widths, cfg.Latent)

	m := &Autoencoder[B]{
		cfg:  cfg,
		relu: nn.NewReLU[B](),
	}
	for i := 0; i+1 < len(widths); i++ {
		m.encoder = append(m.encoder, nn.NewLinear(widths[i], widths[i+1], backend))
	}
	for i := len(widths) - 1; i > 0; i-- {
		m.decoder = append(m.decoder, nn.NewLinear(widths[i], widths[i-1], backend))
	}
	return m, nil
}

// Config returns the model configuration.
func (m *Autoencoder[B]) Config() Config {
	return m.cfg
}

// Encode maps fields [n, C, H, W] to latent codes [n, Latent].
func (m *Autoencoder[B]) Encode(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) != 4 || shape[1] != m.cfg.Channels || shape[2] != m.cfg.Height || shape[3] != m.cfg.Width {
		panic(fmt.Sprintf("Autoencoder.Encode: expected [n, %d, %d, %d], got %v",
			m.cfg.Channels, m.cfg.Height, m.cfg.Width, shape))
	}
	h := x.Reshape(shape[0], m.cfg.InputDim())
	return m.run(m.encoder, h)
}

// Decode maps latent codes [n, Latent] back to fields [n, C, H, W].
func (m *Autoencoder[B]) Decode(z *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out := m.run(m.decoder, z)
	return out.Reshape(z.Shape()[0], m.cfg.Channels, m.cfg.Height, m.cfg.Width)
}

// ForwardLatent returns the reconstruction and the latent code.
func (m *Autoencoder[B]) ForwardLatent(x *tensor.Tensor[float32, B]) (xHat, z *tensor.Tensor[float32, B]) {
	z = m.Encode(x)
	return m.Decode(z), z
}

// Forward returns the reconstruction of x.
func (m *Autoencoder[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	xHat, _ := m.ForwardLatent(x)
	return xHat
}

func (m *Autoencoder[B]) run(layers []*nn.Linear[B], h *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	for i, l := range layers {
		h = l.Forward(h)
		if i < len(layers)-1 {
			h = m.relu.Forward(h)
		}
	}
	return h
}

// Parameters returns every trainable parameter, encoder first.
func (m *Autoencoder[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, l := range m.encoder {
		params = append(params, l.Parameters()...)
	}
	for _, l := range m.decoder {
		params = append(params, l.Parameters()...)
	}
	return params
}

// NumParams returns the number of trainable scalars.
func (m *Autoencoder[B]) NumParams() int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Tensor().NumElements()
	}
	return n
}

// StateDict returns the parameters keyed as "encoder.<i>.weight" and so on.
func (m *Autoencoder[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for prefix, layers := range m.stacks() {
		for i, l := range layers {
			for name, raw := range l.StateDict() {
				state[fmt.Sprintf("%s.%d.%s", prefix, i, name)] = raw
			}
		}
	}
	return state
}

// LoadStateDict copies a state dict produced by StateDict into the model.
func (m *Autoencoder[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	used := 0
	for prefix, layers := range m.stacks() {
		for i, l := range layers {
			key := fmt.Sprintf("%s.%d.", prefix, i)
			sub := make(map[string]*tensor.RawTensor)
			for k, raw := range state {
				if name, ok := strings.CutPrefix(k, key); ok {
					sub[name] = raw
				}
			}
			if err := l.LoadStateDict(sub); err != nil {
				return fmt.Errorf("load %s.%d: %w", prefix, i, err)
			}
			used += len(sub)
		}
	}
	if used != len(state) {
		return fmt.Errorf("load state dict: %d unexpected entries", len(state)-used)
	}
	return nil
}

func (m *Autoencoder[B]) stacks() map[string][]*nn.Linear[B] {
	return map[string][]*nn.Linear[B]{"encoder": m.encoder, "decoder": m.decoder}
}

// Save writes the weights and the model shape to a checkpoint file.
func (m *Autoencoder[B]) Save(path string, metadata map[string]string) error {
	meta := maps.Clone(metadata)
	if meta == nil {
		meta = make(map[string]string)
	}
	meta["channels"] = strconv.Itoa(m.cfg.Channels)
	meta["height"] = strconv.Itoa(m.cfg.Height)
	meta["width"] = strconv.Itoa(m.cfg.Width)
	meta["latent"] = strconv.Itoa(m.cfg.Latent)
	meta["hidden"] = joinInts(m.cfg.Hidden)

	if err := WriteCheckpoint(path, m.StateDict(), ModelType, meta); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Load reads weights saved by Save into m and returns the stored metadata.
func (m *Autoencoder[B]) Load(path string) (map[string]string, error) {
	header, state, err := ReadCheckpoint(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if header.ModelType != ModelType {
		return nil, fmt.Errorf("load %s: model type %q, want %q", path, header.ModelType, ModelType)
	}
	if err := m.LoadStateDict(state); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return header.Metadata, nil
}

// Open reads a checkpoint written by Save without knowing its shape ahead
// of time: the header determines the Config of the returned model.
func Open[B tensor.Backend](path string, backend B) (*Autoencoder[B], map[string]string, error) {
	header, state, err := ReadCheckpoint(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	if header.ModelType != ModelType {
		return nil, nil, fmt.Errorf("open %s: model type %q, want %q", path, header.ModelType, ModelType)
	}
	cfg, err := ConfigFromMetadata(header.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	m, err := New(cfg, backend)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := m.LoadStateDict(state); err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return m, header.Metadata, nil
}

// ConfigFromMetadata rebuilds the model shape recorded by Save.
func ConfigFromMetadata(meta map[string]string) (Config, error) {
	var cfg Config
	var err error
	for key, dst := range map[string]*int{
		"channels": &cfg.Channels,
		"height":   &cfg.Height,
		"width":    &cfg.Width,
		"latent":   &cfg.Latent,
	} {
		v, ok := meta[key]
		if !ok {
			return Config{}, fmt.Errorf("metadata: missing %q", key)
		}
		if *dst, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("metadata %q: %w", key, err)
		}
	}
	if cfg.Hidden, err = splitInts(meta["hidden"]); err != nil {
		return Config{}, fmt.Errorf("metadata \"hidden\": %w", err)
	}
	return cfg, cfg.Validate()
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		x, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}
