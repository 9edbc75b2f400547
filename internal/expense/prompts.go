package expense

// classifierInstruction asks the model for a single JSON object per expense
const classifierInstruction = `You are an expert in classifying business expenses. Classify the provided expense into a category and extract the required fields.

Reply with ONLY a valid JSON object in exactly this shape:
{
  "category": "transport | lodging | meal | supplies | other",
  "amount": number (integer yen, no commas or currency symbols),
  "date": "YYYY-MM-DD",
  "description": "short description",
  "is_valid": true,
  "notes": "anything noteworthy, or an empty string"
}

Rules:
- Return pure JSON: no explanations and no markdown code blocks
- Do not put a comma after the last property
- Numeric fields must contain digits only
- Dates must use the YYYY-MM-DD format
- Set "is_valid" to false when the text does not describe a real expense`

// reporterInstruction asks the model for a plain-text report over classified records
const reporterInstruction = `You write expense reports. Using the classified expense data provided as a JSON array, produce a report in this format:

==============================
Expense report (YYYY-MM-DD)
==============================

[Total]
¥XXX,XXX

[By category]
- transport: ¥XXX,XXX
- lodging: ¥XXX,XXX
- meal: ¥XXX,XXX
- supplies: ¥XXX,XXX
- other: ¥XXX,XXX

[Notes]
- High-value items (¥5,000 or more): XXX
- Other remarks: XXX`
