package agent

// 追加到对话中的固定提示语
const (
	codeInstruction = `

If you need to compute something first, you may act as a Python expert and output code in this format:
` + "```python\n# main python code\n```" + `
Use English variable names that follow Python naming conventions.
The final terminal output of the code is fed back to you for the rest of the answer, so always print() the result at the end.`

	toolResultTemplate = "I called tool %s, args %s, result %s"

	codeResultTemplate = "My code run result is: %s"

	codeFixPrompt = "The code failed. Please fix the code and try again."

	codeAnswerPrompt = "Continue your answer using the code result. Give the answer directly and concisely."

	reflectPrompt = "Please reflect on the result carefully and give a better answer."
)
