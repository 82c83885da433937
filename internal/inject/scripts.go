package inject

import "github.com/xkilldash9x/quill/internal/locator"

// pasteScript dispatches a synthetic paste carrying both HTML and plain text
// and reports whether the editor took it. Rich editors handle paste
// asynchronously, so the content is re-measured after a short delay.
var pasteScript = locator.Script{
	Name: "quill.paste",
	Source: `async (el, arg) => {
  el.focus();
  const measure = () => ((el.innerText !== undefined ? el.innerText : el.value) || '').length;
  const before = measure();
  const data = new DataTransfer();
  data.setData('text/html', arg.html);
  data.setData('text/plain', arg.text);
  const event = new ClipboardEvent('paste', {clipboardData: data, bubbles: true, cancelable: true});
  el.dispatchEvent(event);
  await new Promise((r) => setTimeout(r, 300));
  return {consumed: measure() > before};
}`,
}

// assignScript writes plain markup into the surface and fires an input event
// so frameworks observe the change.
var assignScript = locator.Script{
	Name: "quill.assign",
	Source: `(el, text) => {
  el.focus();
  if (el.tagName === 'TEXTAREA' || el.tagName === 'INPUT') {
    el.value = text;
  } else {
    el.innerText = text;
  }
  el.dispatchEvent(new InputEvent('input', {bubbles: true, inputType: 'insertText', data: text}));
  return {length: ((el.value !== undefined ? el.value : el.innerText) || '').length};
}`,
}

type pasteArgs struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

type pasteResult struct {
	Consumed bool `json:"consumed"`
}

type assignResult struct {
	Length int `json:"length"`
}
