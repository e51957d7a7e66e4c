package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	DefaultPollyRegion = "us-east-1"
	DefaultPollyVoice  = "Matthew"
)

// PollyClient is the subset of the Polly API the provider calls
type PollyClient interface {
	DescribeVoices(ctx context.Context, params *polly.DescribeVoicesInput, optFns ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyProvider speaks through Amazon Polly
type PollyProvider struct {
	client   PollyClient
	region   string
	language string
}

// NewPollyProvider creates a Polly provider using the default AWS credential chain
func NewPollyProvider(ctx context.Context, region, languageCode string) (*PollyProvider, error) {
	if region == "" {
		region = DefaultPollyRegion
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newPollyProvider(polly.NewFromConfig(cfg), region, languageCode), nil
}

func newPollyProvider(client PollyClient, region, languageCode string) *PollyProvider {
	return &PollyProvider{client: client, region: region, language: languageCode}
}

func (p *PollyProvider) Name() string {
	return "polly"
}

// ListVoices returns Polly voices, limited to the provider's language when set
func (p *PollyProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	input := &polly.DescribeVoicesInput{}
	if p.language != "" {
		input.LanguageCode = types.LanguageCode(p.language)
	}

	result, err := p.client.DescribeVoices(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to list Polly voices: %w", err)
	}

	title := cases.Title(language.English)
	voices := make([]Voice, 0, len(result.Voices))
	for _, v := range result.Voices {
		voice := Voice{
			ID:       string(v.Id),
			Name:     aws.ToString(v.Name),
			Language: string(v.LanguageCode),
			Description: fmt.Sprintf("%s voice, %s engine supported",
				title.String(string(v.Gender)),
				formatSupportedEngines(v.SupportedEngines)),
		}
		switch v.Gender {
		case types.GenderFemale:
			voice.Gender = "female"
		case types.GenderMale:
			voice.Gender = "male"
		}
		voices = append(voices, voice)
	}
	return voices, nil
}

// Synthesize generates audio from text using Amazon Polly
func (p *PollyProvider) Synthesize(ctx context.Context, text string, options SynthesizeOptions) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	voiceID := options.Voice
	if voiceID == "" {
		voiceID = DefaultPollyVoice
	}

	var format types.OutputFormat
	switch strings.ToLower(options.Format) {
	case "", "mp3":
		format = types.OutputFormatMp3
	case "ogg":
		format = types.OutputFormatOggVorbis
	case "pcm":
		format = types.OutputFormatPcm
	default:
		return nil, fmt.Errorf("unsupported audio format: %s", options.Format)
	}

	engine := types.EngineNeural
	switch strings.ToLower(options.Engine) {
	case "", "neural":
	case "standard":
		engine = types.EngineStandard
	case "long-form":
		engine = types.EngineLongForm
	case "generative":
		engine = types.EngineGenerative
	default:
		log.Warn().Str("engine", options.Engine).Msg("Unknown engine, using neural")
	}

	input := &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		TextType:     types.TextTypeText,
		VoiceId:      types.VoiceId(voiceID),
		OutputFormat: format,
		Engine:       engine,
	}
	switch options.SampleRate {
	case "":
	case "8000", "16000", "22050", "24000":
		input.SampleRate = aws.String(options.SampleRate)
	default:
		log.Warn().Str("sample_rate", options.SampleRate).Msg("Invalid sample rate, using default")
	}

	// Polly has no rate parameter outside SSML
	if speed := clampSpeed(options.Speed); speed != 1.0 {
		input.Text = aws.String(fmt.Sprintf(`<speak><prosody rate="%d%%">%s</prosody></speak>`, int(speed*100), escapeSSML(text)))
		input.TextType = types.TextTypeSsml
	}

	log.Debug().
		Str("voice_id", voiceID).
		Str("engine", string(engine)).
		Str("text_type", string(input.TextType)).
		Msg("Making Polly synthesis request")

	result, err := p.client.SynthesizeSpeech(ctx, input)
	if err != nil {
		err = fmt.Errorf("failed to synthesize speech: %w", err)
		if pollyPermanent(err) {
			return nil, fmt.Errorf("%w: %w", ErrPermanent, err)
		}
		return nil, err
	}
	return result.AudioStream, nil
}

// IsAvailable checks that the service answers a voice listing
func (p *PollyProvider) IsAvailable(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.client.DescribeVoices(checkCtx, &polly.DescribeVoicesInput{})
	return err == nil
}

func pollyPermanent(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "UnrecognizedClientException", "AccessDeniedException", "InvalidSignatureException",
		"InvalidSsmlException", "EngineNotSupportedException", "TextLengthExceededException":
		return true
	}
	return false
}

var ssmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")

func escapeSSML(text string) string {
	return ssmlEscaper.Replace(text)
}

func formatSupportedEngines(engines []types.Engine) string {
	if len(engines) == 0 {
		return "unknown"
	}
	names := make([]string, len(engines))
	for i, engine := range engines {
		names[i] = string(engine)
	}
	return strings.Join(names, ", ")
}
