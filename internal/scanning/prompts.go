package scanning

// transcribePrompt is the shared prompt used by vision models acting as OCR
const transcribePrompt = `You are reading a photo or scan of a receipt or invoice. Transcribe every line of text exactly as printed, top to bottom.

Rules:
- Output plain text only, one printed line per output line
- Keep numbers, currency symbols (¥, 円), dates and punctuation as they appear
- Keep Japanese text in Japanese; do not translate
- Do not summarize, explain, or add markdown`
