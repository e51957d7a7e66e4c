package provider

import (
	"context"
	"errors"
	"io"
	"testing"

	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MockGCPClient is a mock implementation of the Cloud TTS client
type MockGCPClient struct {
	mock.Mock
}

func (m *MockGCPClient) ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest, opts ...gax.CallOption) (*texttospeechpb.ListVoicesResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*texttospeechpb.ListVoicesResponse), args.Error(1)
}

func (m *MockGCPClient) SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*texttospeechpb.SynthesizeSpeechResponse), args.Error(1)
}

func (m *MockGCPClient) Close() error {
	return m.Called().Error(0)
}

func TestGCPProvider_Defaults(t *testing.T) {
	p := newGCPProvider(&MockGCPClient{})
	assert.Equal(t, "gcp", p.Name())
	assert.Equal(t, DefaultGCPVoice, p.voice)
	assert.Equal(t, DefaultGCPLanguage, p.language)

	p = newGCPProvider(&MockGCPClient{}, WithGCPVoice("en-GB-Wavenet-B"), WithGCPLanguage("en-GB"))
	assert.Equal(t, "en-GB-Wavenet-B", p.voice)
	assert.Equal(t, "en-GB", p.language)
}

func TestDetectEngineType(t *testing.T) {
	tests := map[string]string{
		"en-US-Wavenet-A":  "WaveNet",
		"en-US-Neural2-D":  "Neural2",
		"en-US-Studio-O":   "Studio",
		"en-US-News-K":     "News",
		"en-US-Casual-K":   "Casual",
		"en-US-Standard-B": "Standard",
	}
	for voice, want := range tests {
		assert.Equal(t, want, detectEngineType(voice), voice)
	}
}

func TestGCPHelpers(t *testing.T) {
	assert.Equal(t, texttospeechpb.AudioEncoding_MP3, audioEncoding(""))
	assert.Equal(t, texttospeechpb.AudioEncoding_LINEAR16, audioEncoding("WAV"))
	assert.Equal(t, texttospeechpb.AudioEncoding_OGG_OPUS, audioEncoding("ogg"))

	assert.Equal(t, int32(24000), sampleRate("24000"))
	assert.Equal(t, int32(0), sampleRate("12345"))

	assert.Equal(t, 0.0, volumeGainDb(0))
	assert.Equal(t, 0.0, volumeGainDb(1))
	assert.InDelta(t, 6.02, volumeGainDb(2), 0.01)
	assert.Equal(t, 16.0, volumeGainDb(100))

	assert.Equal(t, "en-GB", languageFromVoice("en-GB-Neural2-B", "en-US"))
	assert.Equal(t, "en-US", languageFromVoice("custom", "en-US"))
}

func TestGCPProvider_ListVoices(t *testing.T) {
	client := &MockGCPClient{}
	client.On("ListVoices", mock.Anything, mock.MatchedBy(func(req *texttospeechpb.ListVoicesRequest) bool {
		return req.LanguageCode == "en-US"
	})).
		Return(&texttospeechpb.ListVoicesResponse{Voices: []*texttospeechpb.Voice{
			{Name: "en-US-Neural2-D", LanguageCodes: []string{"en-US"}, SsmlGender: texttospeechpb.SsmlVoiceGender_MALE},
			{Name: "en-US-Wavenet-F", SsmlGender: texttospeechpb.SsmlVoiceGender_FEMALE},
		}}, nil)

	voices, err := newGCPProvider(client).ListVoices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Voice{
		{ID: "en-US-Neural2-D", Name: "en-US-Neural2-D", Language: "en-US", Gender: "male", Description: "Neural2 voice"},
		{ID: "en-US-Wavenet-F", Name: "en-US-Wavenet-F", Language: "en-US", Gender: "female", Description: "WaveNet voice"},
	}, voices)
}

func TestGCPProvider_Synthesize(t *testing.T) {
	client := &MockGCPClient{}
	var captured *texttospeechpb.SynthesizeSpeechRequest
	client.On("SynthesizeSpeech", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*texttospeechpb.SynthesizeSpeechRequest)
		}).
		Return(&texttospeechpb.SynthesizeSpeechResponse{AudioContent: []byte("pcm")}, nil)

	reader, err := newGCPProvider(client).Synthesize(context.Background(), "Last call.", SynthesizeOptions{
		Voice: "en-GB-Neural2-B",
		Speed: 0.9,
	})
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "pcm", string(data))

	require.NotNil(t, captured)
	assert.Equal(t, "Last call.", captured.Input.GetText())
	assert.Equal(t, "en-GB", captured.Voice.LanguageCode)
	assert.Equal(t, "en-GB-Neural2-B", captured.Voice.Name)
	assert.InDelta(t, 0.9, captured.AudioConfig.SpeakingRate, 1e-9)
	assert.Equal(t, texttospeechpb.AudioEncoding_MP3, captured.AudioConfig.AudioEncoding)
}

func TestGCPProvider_Synthesize_Errors(t *testing.T) {
	t.Run("empty text", func(t *testing.T) {
		_, err := newGCPProvider(&MockGCPClient{}).Synthesize(context.Background(), "", SynthesizeOptions{})
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("permission denied is permanent", func(t *testing.T) {
		client := &MockGCPClient{}
		client.On("SynthesizeSpeech", mock.Anything, mock.Anything).
			Return(nil, status.Error(codes.PermissionDenied, "billing disabled"))

		_, err := newGCPProvider(client).Synthesize(context.Background(), "hi", SynthesizeOptions{})
		assert.ErrorIs(t, err, ErrPermanent)
		assert.Contains(t, err.Error(), "PermissionDenied")
	})

	t.Run("unavailable is transient", func(t *testing.T) {
		client := &MockGCPClient{}
		client.On("SynthesizeSpeech", mock.Anything, mock.Anything).
			Return(nil, status.Error(codes.Unavailable, "try later"))

		_, err := newGCPProvider(client).Synthesize(context.Background(), "hi", SynthesizeOptions{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrPermanent)
	})
}

func TestGCPProvider_IsAvailableAndClose(t *testing.T) {
	client := &MockGCPClient{}
	client.On("ListVoices", mock.Anything, mock.Anything).Return(nil, errors.New("no credentials")).Once()
	client.On("Close").Return(nil)

	p := newGCPProvider(client)
	assert.False(t, p.IsAvailable(context.Background()))
	assert.NoError(t, p.Close())
	client.AssertExpectations(t)
}
