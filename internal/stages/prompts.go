package stages

const audioAnalysisPrompt = `Analiza este audio de una respuesta a la pregunta: "%s".

Devuelve SOLO un objeto JSON con esta estructura:
{
  "transcription": "texto completo transcrito",
  "duration_seconds": 0,
  "emotional_analysis": {"joy": 0.0, "sadness": 0.0, "anger": 0.0, "fear": 0.0, "surprise": 0.0, "neutral": 0.0},
  "prosodic_metrics": {"speech_rate": 0.0, "pause_frequency": 0.0, "pitch_variation": 0.0, "volume_consistency": 0.0},
  "psychological_indicators": {"stress_level": 0.0, "confidence_level": 0.0, "engagement": 0.0, "authenticity": 0.0},
  "observations": ["observación breve"]
}
Las puntuaciones emocionales e indicadores van de 0 a 1.`

const interpretationSystemPrompt = "Eres un psicólogo organizacional que evalúa respuestas a cuestionarios de competencias. Responde en español."

const interpretationPrompt = `Evalúa las respuestas de la siguiente persona.

%s
Respuestas:
%s
Devuelve un objeto JSON con esta estructura:
{
  "interpretation": "interpretación general",
  "summary": "resumen breve",
  "soft_skills": {"comunicacion": {"score": 0, "confidence": 0.0}},
  "question_interpretations": {"<id de pregunta>": {"interpretation": "...", "confidence": 0.0}},
  "recommendations": ["..."]
}
Las puntuaciones de habilidades van de 0 a 10 y las confianzas de 0 a 1.`

const reportSystemPrompt = "Eres un consultor de talento que redacta informes de evaluación de personalidad y competencias en español."

const reportPrompt = `Redacta un informe integral para la siguiente persona a partir de todos los datos recogidos.

%s
Usa exactamente estas secciones, cada una con un encabezado "### ":
### RESUMEN DESCRIPTIVO DE PERSONALIDAD
### EVALUACIÓN DE COMPETENCIAS
### FORTALEZAS
### ÁREAS DE DESARROLLO
### PROPUESTA DE RESKILLING

En EVALUACIÓN DE COMPETENCIAS puntúa cada una de estas competencias con una línea numerada
con el formato "N. Nombre: puntuación/10 - descripción":
%s`
