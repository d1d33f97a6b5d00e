package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"medintake/internal/logging"
	"medintake/internal/session"
)

const extractionSystemPrompt = `Você extrai dados de agendamento de consultas médicas de mensagens em português.
Responda somente com um objeto JSON com as chaves abaixo, omitindo as que a mensagem não informa:
- "nome": nome completo do paciente
- "telefone": telefone com DDD, como escrito
- "data": data da consulta como escrita (ex.: "amanhã", "15/10", "próxima segunda")
- "horario": horário como escrito (ex.: "14h", "10:30", "de manhã")
- "tipo_consulta": especialidade ou tipo de consulta
- "cpf": CPF do paciente
- "cep": CEP do endereço
- "observacoes": observações relevantes
- "confidence": número entre 0 e 1 indicando sua confiança
Não invente valores. Não normalize datas nem telefones.`

// defaultLLMConfidence is used when the model omits its own score.
const defaultLLMConfidence = 0.85

// LLMExtractor asks a language model to extract fields as JSON.
type LLMExtractor struct {
	client  LLMClient
	timeout time.Duration
}

// NewLLMExtractor wraps client. A non-positive timeout means 30s.
func NewLLMExtractor(client LLMClient, timeout time.Duration) *LLMExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMExtractor{client: client, timeout: timeout}
}

// Name implements Extractor.
func (e *LLMExtractor) Name() string { return e.client.Provider() }

// Extract implements Extractor. Transport and parse failures yield an
// unsuccessful Result together with the error.
func (e *LLMExtractor) Extract(ctx context.Context, message string, sc *session.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.client.CompleteWithSystem(ctx, extractionSystemPrompt, buildUserPrompt(message, sc))
	if err != nil {
		logging.PerceptionWarn("[%s] extraction call failed: %v", e.Name(), err)
		return Failed(e.Name(), err), err
	}
	data, confidence, err := parseExtraction(raw)
	if err != nil {
		logging.PerceptionWarn("[%s] unparseable extraction: %v", e.Name(), err)
		return Failed(e.Name(), err), err
	}
	return Result{Success: true, Data: data, Confidence: confidence, Source: e.Name()}, nil
}

func buildUserPrompt(message string, sc *session.Context) string {
	var sb strings.Builder
	if sc != nil && len(sc.Extracted) > 0 {
		sb.WriteString("Dados já coletados:\n")
		for _, f := range sc.Extracted.Ordered() {
			fmt.Fprintf(&sb, "- %s: %s\n", f.Label(), sc.Extracted[f])
		}
		sb.WriteString("\n")
	}
	if sc != nil && sc.LastResponse != "" {
		fmt.Fprintf(&sb, "Última pergunta do assistente: %s\n\n", sc.LastResponse)
	}
	fmt.Fprintf(&sb, "Mensagem do paciente: %s", message)
	return sb.String()
}

// parseExtraction decodes the model reply. Non-string values are rendered as
// text; null and empty values are dropped.
func parseExtraction(raw string) (map[string]string, float64, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &obj); err != nil {
		return nil, 0, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}

	confidence := defaultLLMConfidence
	data := make(map[string]string, len(obj))
	for k, v := range obj {
		if k == "confidence" || k == "confidence_score" {
			if f, ok := v.(float64); ok && f >= 0 && f <= 1 {
				confidence = f
			}
			continue
		}
		s := stringify(v)
		if s == "" {
			continue
		}
		data[k] = s
	}
	return data, confidence, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
